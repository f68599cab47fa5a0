package rpc

// CommandMeta is the authorization/routing shape every admin command
// carries, grounded on the original's ChunkCommandHelper/MoveChunkCommand
// base classes (original_source/src/mongo/s/d_migrate.cpp): never runs on a
// secondary, always admin-only. Command dispatch itself is out of scope
// (spec.md §1); this table gives a real dispatcher a seam to enforce the
// same authorization shape the original enforces inline per-command.
type CommandMeta struct {
	Name      string
	SlaveOK   bool
	AdminOnly bool
}

const (
	CmdMoveChunk        = "moveChunk"
	CmdRecvChunkStart    = "_recvChunkStart"
	CmdRecvChunkStartOne = "_recvChunkStartOne"
	CmdMigrateClone      = "_migrateClone"
	CmdTransferMods      = "_transferMods"
	CmdRecvChunkStatus   = "_recvChunkStatus"
	CmdRecvChunkCommit   = "_recvChunkCommit"
	CmdRecvChunkAbort    = "_recvChunkAbort"
)

// Commands is the full table from spec.md §6, each entry slaveOk=false,
// adminOnly=true as the original enforces for every sharding-internal
// command.
var Commands = map[string]CommandMeta{
	CmdMoveChunk:         {Name: CmdMoveChunk, SlaveOK: false, AdminOnly: true},
	CmdRecvChunkStart:    {Name: CmdRecvChunkStart, SlaveOK: false, AdminOnly: true},
	CmdRecvChunkStartOne: {Name: CmdRecvChunkStartOne, SlaveOK: false, AdminOnly: true},
	CmdMigrateClone:      {Name: CmdMigrateClone, SlaveOK: false, AdminOnly: true},
	CmdTransferMods:      {Name: CmdTransferMods, SlaveOK: false, AdminOnly: true},
	CmdRecvChunkStatus:   {Name: CmdRecvChunkStatus, SlaveOK: false, AdminOnly: true},
	CmdRecvChunkCommit:   {Name: CmdRecvChunkCommit, SlaveOK: false, AdminOnly: true},
	CmdRecvChunkAbort:    {Name: CmdRecvChunkAbort, SlaveOK: false, AdminOnly: true},
}
