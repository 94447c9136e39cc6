package event

import (
	"bytes"
	"encoding/json"
)

// Value 是属性/系统属性的值：要么是字符串，要么是显式的 null
// null 表示键存在但没有可读的值，和键不存在是两回事
type Value struct {
	str   string
	valid bool
}

// String 构造一个字符串值
func String(s string) Value { return Value{str: s, valid: true} }

// Null 构造一个显式 null 值
func Null() Value { return Value{} }

func (v Value) IsNull() bool { return !v.valid }

// Get 返回字符串内容，null 时 ok 为 false
func (v Value) Get() (string, bool) { return v.str, v.valid }

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.str)
}

type entry struct {
	key   string
	value Value
}

// Map 是按插入顺序保存的 string -> Value 映射
// 零值可以直接使用
type Map struct {
	entries []entry
	index   map[string]int
}

// Set 写入一个键，已存在时原地覆盖（保持原来的位置）
func (m *Map) Set(key string, v Value) {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	if i, ok := m.index[key]; ok {
		m.entries[i].value = v
		return
	}
	m.index[key] = len(m.entries)
	m.entries = append(m.entries, entry{key: key, value: v})
}

// Lookup 返回键对应的值以及键是否存在
func (m *Map) Lookup(key string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	i, ok := m.index[key]
	if !ok {
		return Value{}, false
	}
	return m.entries[i].value, true
}

// Has 只判断键是否存在，不关心值是否为 null
func (m *Map) Has(key string) bool {
	_, ok := m.Lookup(key)
	return ok
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.key
	}
	return keys
}

// Range 按顺序遍历，fn 返回 false 时停止
func (m *Map) Range(fn func(key string, v Value) bool) {
	if m == nil {
		return
	}
	for _, e := range m.entries {
		if !fn(e.key, e.value) {
			return
		}
	}
}

// Clone 深拷贝，返回的 Map 与原对象互不影响
func (m *Map) Clone() *Map {
	out := &Map{}
	m.Range(func(k string, v Value) bool {
		out.Set(k, v)
		return true
	})
	return out
}

// MarshalJSON 按插入顺序输出对象，null 值输出为 JSON null
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m.entriesOrNil() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := e.value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *Map) entriesOrNil() []entry {
	if m == nil {
		return nil
	}
	return m.entries
}

// DeviceRecord 是一次枚举结果或一次监控事件对应的设备快照
// 返回给调用方之后不再修改
type DeviceRecord struct {
	Syspath    string `json:"syspath"`
	Properties *Map   `json:"properties"`
	Sysattrs   *Map   `json:"sysattrs,omitempty"` // 只有请求了系统属性时才填充
}

// Property 是读取单个属性字符串的便捷方法，null 或不存在都返回 ""
func (r DeviceRecord) Property(key string) string {
	v, _ := r.Properties.Lookup(key)
	s, _ := v.Get()
	return s
}

// Action 是内核事件的动作标签
// 内核给出的字符串不是封闭集合，未知标签原样保留
type Action string

const (
	ActionAdd     Action = "add"
	ActionRemove  Action = "remove"
	ActionChange  Action = "change"
	ActionMove    Action = "move"
	ActionOnline  Action = "online"
	ActionOffline Action = "offline"
	ActionBind    Action = "bind"
	ActionUnbind  Action = "unbind"

	// ActionUnknown 用于内核没有给出动作标签的情况
	ActionUnknown Action = "unknown"
)

// ParseAction 把内核标签归类到已知集合
// known 为 false 时返回的 Action 就是原始标签（空标签返回 ActionUnknown）
func ParseAction(label string) (a Action, known bool) {
	switch Action(label) {
	case ActionAdd, ActionRemove, ActionChange, ActionMove,
		ActionOnline, ActionOffline, ActionBind, ActionUnbind:
		return Action(label), true
	case "":
		return ActionUnknown, false
	}
	return Action(label), false
}
