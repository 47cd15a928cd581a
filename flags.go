package goxa

// XA 标准中的 flag 取值
const (
	TMNoFlags    = 0x00000000
	TMJoin       = 0x00200000
	TMEndRScan   = 0x00800000
	TMStartRScan = 0x01000000
	TMSuspend    = 0x02000000
	TMSuccess    = 0x04000000
	TMResume     = 0x08000000
	TMFail       = 0x20000000
	TMOnePhase   = 0x40000000
)

// Vote prepare 阶段的投票结果
type Vote int

const (
	VoteOK Vote = iota
	VoteReadOnly
	VoteRollback
)

func (v Vote) String() string {
	switch v {
	case VoteOK:
		return "ok"
	case VoteReadOnly:
		return "read-only"
	default:
		return "rollback"
	}
}
