package linux_monitor

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/Hara602/devMonitor/internal/device"
)

// scan 遍历 /sys/bus/*/devices 和 /sys/class/*
// 同类规则之间是"或"，子系统规则和标签规则之间是"与"
type scan struct {
	ctx        *dbContext
	subsystems []string
	tags       []string
	results    []string
}

func (s *scan) AddMatch(kind device.MatchKind, value string) error {
	if err := validateRule(value); err != nil {
		return err
	}
	switch kind {
	case device.MatchSubsystem:
		s.subsystems = append(s.subsystems, value)
	case device.MatchTag:
		s.tags = append(s.tags, value)
	}
	return nil
}

func (s *scan) Execute() error {
	root := s.ctx.svc.cfg.SysRoot
	seen := make(map[string]bool)
	var results []string

	add := func(entry string) {
		real, err := filepath.EvalSymlinks(entry)
		if err != nil || seen[real] {
			return
		}
		if _, err := os.Stat(filepath.Join(real, "uevent")); err != nil {
			return
		}
		seen[real] = true
		if len(s.tags) > 0 && !s.matchTags(real) {
			return
		}
		results = append(results, real)
	}

	busDirs, err := s.subsystemDirs(filepath.Join(root, "bus"))
	if err != nil {
		return err
	}
	for _, bus := range busDirs {
		s.walk(filepath.Join(bus, "devices"), add)
	}

	classDirs, err := s.subsystemDirs(filepath.Join(root, "class"))
	if err != nil {
		return err
	}
	for _, class := range classDirs {
		s.walk(class, add)
	}

	slices.Sort(results)
	s.results = results
	return nil
}

func (s *scan) Results() []string { return s.results }

// subsystemDirs 返回 base 下满足子系统规则的目录，base 不存在时返回空
func (s *scan) subsystemDirs(base string) ([]string, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if len(s.subsystems) > 0 && !slices.Contains(s.subsystems, e.Name()) {
			continue
		}
		dirs = append(dirs, filepath.Join(base, e.Name()))
	}
	return dirs, nil
}

func (s *scan) walk(dir string, fn func(string)) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.ctx.svc.logger.Debug("skipping unreadable directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	for _, e := range entries {
		fn(filepath.Join(dir, e.Name()))
	}
}

func (s *scan) matchTags(real string) bool {
	d := s.ctx.svc.newDevice(real, s.ctx.realRoot)
	defer d.Release()
	have := splitTags(d.property("TAGS"))
	have = append(have, splitTags(d.property("CURRENT_TAGS"))...)
	return slices.ContainsFunc(s.tags, func(t string) bool {
		return slices.Contains(have, t) || s.ctx.svc.taggedInDir(t, real, d)
	})
}

// taggedInDir 检查 /run/udev/tags/<tag>/<id> 是否存在
// 较新的 udevd 只在这里记录标签
func (s *Service) taggedInDir(tag, syspath string, d *sysDevice) bool {
	props := newPropertySet()
	for _, p := range d.Properties() {
		if !p.Null {
			props.set(p.Name, p.Value)
		}
	}
	id := deviceID(props.get("SUBSYSTEM"), filepath.Base(syspath), props)
	if id == "" || strings.Contains(id, "/") {
		return false
	}
	_, err := os.Stat(filepath.Join(s.cfg.UdevTagsDir, tag, id))
	return err == nil
}
