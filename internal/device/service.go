// Package device holds the pieces shared by enumeration and monitoring:
// the device-service capability, filter rules, property extraction and
// the synchronous lookups built on top of them.
//
// Nothing in this package keeps a process-wide handle on the device
// service. Every operation opens its own Context and releases it before
// returning.
package device

// MatchKind 区分过滤规则的类型
type MatchKind int

const (
	MatchSubsystem MatchKind = iota
	MatchTag
)

func (k MatchKind) String() string {
	switch k {
	case MatchSubsystem:
		return "subsystem"
	case MatchTag:
		return "tag"
	}
	return "unknown"
}

// Service 是底层设备服务（Linux 上是 sysfs + udev 数据库 + netlink）
type Service interface {
	// OpenContext 获取一个数据库上下文，服务不可达时返回 ErrResourceUnavailable
	OpenContext() (Context, error)
}

// Context 由创建它的操作独占，不能被两个逻辑操作同时使用
type Context interface {
	// ResolveDevice 按 syspath 解析设备，找不到时返回 ErrDeviceNotFound
	ResolveDevice(syspath string) (Handle, error)
	NewScan() (Scan, error)
	NewChannel() (Channel, error)
	Close() error
}

// Handle 是对单个设备记录的独占引用，必须且只能 Release 一次
type Handle interface {
	// Syspath 为空表示服务无法给出该设备的 syspath
	Syspath() string
	// Action 只对从 Channel 收到的设备有意义
	Action() string
	// Parent 返回 (nil, nil) 表示没有父设备
	Parent() (Handle, error)
	// Properties 按服务给出的顺序返回属性列表
	Properties() []Property
	AttributeNames() []string
	// AttributeValue 每次调用都重新读取，ok 为 false 表示值不可读
	AttributeValue(name string) (value string, ok bool)
	Release()
}

// Property 是服务给出的一条属性，Null 表示键存在但没有值
type Property struct {
	Name  string
	Value string
	Null  bool
}

// Scan 是一次设备树遍历请求
type Scan interface {
	AddMatch(kind MatchKind, value string) error
	Execute() error
	// Results 返回匹配到的 syspath，按遍历顺序
	Results() []string
}

// Channel 是内核设备事件通知通道
type Channel interface {
	AddMatch(kind MatchKind, value string) error
	EnableReceiving() error
	// Fd 返回可读就绪时需要被 poll 的描述符
	Fd() int
	// ReceiveOne 取出一条待处理消息，没有消息时返回 (nil, nil)
	ReceiveOne() (Handle, error)
	Close() error
}

// WithContext 打开一个上下文并保证 fn 返回后释放
// 上下文不会逃出 fn，所以不可能被重复释放
func WithContext(svc Service, fn func(Context) error) error {
	ctx, err := svc.OpenContext()
	if err != nil {
		return err
	}
	defer ctx.Close()
	return fn(ctx)
}

// withHandle 与 WithContext 同理，作用于单个设备句柄
func withHandle(h Handle, fn func(Handle) error) error {
	defer h.Release()
	return fn(h)
}
