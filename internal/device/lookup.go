package device

import (
	"fmt"

	"github.com/Hara602/devMonitor/pkg/event"
)

// ResolveBySyspath 解析单个设备，找不到时返回 ErrDeviceNotFound
// 返回的句柄由调用方负责 Release
func ResolveBySyspath(ctx Context, path string) (Handle, error) {
	h, err := ctx.ResolveDevice(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	return h, nil
}

// GetParentBySyspath 返回父设备的记录（只包含属性）
// 根设备没有父设备，此时返回 (nil, nil)
func (c *Client) GetParentBySyspath(path string) (*event.DeviceRecord, error) {
	var out *event.DeviceRecord
	err := WithContext(c.svc, func(ctx Context) error {
		h, err := ResolveBySyspath(ctx, path)
		if err != nil {
			return err
		}
		return withHandle(h, func(h Handle) error {
			parent, err := h.Parent()
			if err != nil {
				return fmt.Errorf("parent of %s: %w", path, err)
			}
			if parent == nil {
				return nil
			}
			return withHandle(parent, func(p Handle) error {
				rec, err := newRecord(p, false)
				if err != nil {
					return fmt.Errorf("parent of %s has no syspath: %w", path, err)
				}
				out = &rec
				return nil
			})
		})
	})
	return out, err
}

// GetAttributesBySyspath 返回设备的全部系统属性，最后一项是 syspath
func (c *Client) GetAttributesBySyspath(path string) (*event.Map, error) {
	var out *event.Map
	err := WithContext(c.svc, func(ctx Context) error {
		h, err := ResolveBySyspath(ctx, path)
		if err != nil {
			return err
		}
		return withHandle(h, func(h Handle) error {
			out = ExtractSysattrs(h)
			out.Set("syspath", event.String(h.Syspath()))
			return nil
		})
	})
	return out, err
}

// NodeChain 返回设备自身以及所有祖先设备，从叶子到根
// 每条记录都同时包含属性和系统属性
func (c *Client) NodeChain(path string) ([]event.DeviceRecord, error) {
	var chain []event.DeviceRecord
	err := WithContext(c.svc, func(ctx Context) error {
		h, err := ResolveBySyspath(ctx, path)
		if err != nil {
			return err
		}
		for h != nil {
			rec, err := newRecord(h, true)
			if err != nil {
				h.Release()
				return fmt.Errorf("ancestor %d of %s has no syspath: %w", len(chain), path, err)
			}
			chain = append(chain, rec)

			parent, err := h.Parent()
			h.Release()
			if err != nil {
				return fmt.Errorf("parent of %s: %w", rec.Syspath, err)
			}
			h = parent
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chain, nil
}

// DetailEntry 是 NodeDetails 的一项：某个键沿设备链从根到叶子的所有取值
type DetailEntry struct {
	Key    string
	Values []event.Value
}

// NodeDetails 把设备链汇总成 键 -> 取值列表
// 同名时系统属性覆盖属性；键的顺序按从根开始首次出现的顺序
func (c *Client) NodeDetails(path string) ([]DetailEntry, error) {
	chain, err := c.NodeChain(path)
	if err != nil {
		return nil, err
	}

	var out []DetailEntry
	index := make(map[string]int)
	add := func(key string, v event.Value) {
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, DetailEntry{Key: key})
		}
		out[i].Values = append(out[i].Values, v)
	}

	for i := len(chain) - 1; i >= 0; i-- {
		node := chain[i].Properties.Clone()
		chain[i].Sysattrs.Range(func(k string, v event.Value) bool {
			node.Set(k, v)
			return true
		})
		node.Set("syspath", event.String(chain[i].Syspath))
		node.Range(func(k string, v event.Value) bool {
			add(k, v)
			return true
		})
	}
	return out, nil
}
