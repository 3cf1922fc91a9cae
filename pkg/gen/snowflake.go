package gen

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("snowflake",
	fx.Provide(NewNode),
)

// NewNode builds the process-wide snowflake node. The node id comes from
// SNOWFLAKE_NODE_ID so replicas never collide; defaults to 1.
func NewNode() (*snowflake.Node, error) {
	nodeID := int64(1)
	if v, ok := os.LookupEnv("SNOWFLAKE_NODE_ID"); ok {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			nodeID = parsed
		}
	}
	return snowflake.NewNode(nodeID)
}
