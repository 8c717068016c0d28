package conveyor

import "github.com/workbenchio/conveyor/id"

// ID is the primary identifier type for all conveyor entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
