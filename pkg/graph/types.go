package graph

import "github.com/OFFIS-RIT/ontograph/pkg/common"

type (
	NodeID     = common.NodeID
	Attributes = common.Attributes
)
