package device

// Filter 是子系统和标签匹配规则的集合，空 Filter 匹配所有设备
type Filter struct {
	Subsystems []string `yaml:"subsystems"`
	Tags       []string `yaml:"tags"`
}

// matcher 是可以安装过滤规则的目标（Scan 或 Channel）
type matcher interface {
	AddMatch(kind MatchKind, value string) error
}

// IsEmpty 没有任何规则时返回 true
func (f Filter) IsEmpty() bool {
	return len(f.Subsystems) == 0 && len(f.Tags) == 0
}

// Equal 按集合语义比较两个 Filter
func (f Filter) Equal(o Filter) bool {
	return sameSet(f.Subsystems, o.Subsystems) && sameSet(f.Tags, o.Tags)
}

// Clone 返回去重后的独立副本，挂载之后调用方修改原切片不会影响已挂载的规则
func (f Filter) Clone() Filter {
	return Filter{Subsystems: dedupe(f.Subsystems), Tags: dedupe(f.Tags)}
}

// attach 先安装全部子系统规则，再安装全部标签规则
// 任何一条失败都立即返回，绝不继续使用不完整的过滤条件
func (f Filter) attach(m matcher) error {
	for _, s := range dedupe(f.Subsystems) {
		if err := m.AddMatch(MatchSubsystem, s); err != nil {
			return &FilterRejectedError{Kind: MatchSubsystem, Rule: s, Err: err}
		}
	}
	for _, t := range dedupe(f.Tags) {
		if err := m.AddMatch(MatchTag, t); err != nil {
			return &FilterRejectedError{Kind: MatchTag, Rule: t, Err: err}
		}
	}
	return nil
}

// Attach 把规则安装到通知通道上，供 monitor 包使用
func (f Filter) Attach(ch Channel) error {
	return f.attach(ch)
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func sameSet(a, b []string) bool {
	a, b = dedupe(a), dedupe(b)
	if len(a) != len(b) {
		return false
	}
	in := make(map[string]bool, len(a))
	for _, s := range a {
		in[s] = true
	}
	for _, s := range b {
		if !in[s] {
			return false
		}
	}
	return true
}
