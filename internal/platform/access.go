package platform

import "path/filepath"

// AccessType 守护进程需要的访问权限
type AccessType int

const (
	// AccessInputRead 读取 /dev/input 事件文件
	AccessInputRead AccessType = iota

	// AccessUinputWrite 写入 /dev/uinput，用于宏回放和多媒体键
	AccessUinputWrite

	// AccessDriverWrite 写入驱动属性文件（mode_macro 等）
	AccessDriverWrite
)

// String 返回权限类型的字符串表示
func (a AccessType) String() string {
	switch a {
	case AccessInputRead:
		return "input_read"
	case AccessUinputWrite:
		return "uinput_write"
	case AccessDriverWrite:
		return "driver_write"
	default:
		return "unknown"
	}
}

// AccessStatus 权限状态
type AccessStatus int

const (
	// AccessGranted 全部路径可访问
	AccessGranted AccessStatus = iota

	// AccessDenied 至少一个路径不可访问
	AccessDenied

	// AccessUnknown 没有可检查的路径，或平台不支持检查
	AccessUnknown
)

// String 返回权限状态的字符串表示
func (s AccessStatus) String() string {
	switch s {
	case AccessGranted:
		return "granted"
	case AccessDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// AccessChecker 权限检查器接口
type AccessChecker interface {
	CheckAccess(accessType AccessType) AccessStatus
}

// UinputPath uinput 设备节点
const UinputPath = "/dev/uinput"

// FileAccessChecker 按文件权限检查访问能力
//
// 每种权限对应一组路径，全部路径都可访问才算授予。
type FileAccessChecker struct {
	paths map[AccessType][]string
	modes map[AccessType]uint32
}

// NewFileAccessChecker 创建检查器
//
// Parameters:
//   - eventFiles: 输入事件文件
//   - driverPath: 驱动属性目录，为空时不检查驱动权限
func NewFileAccessChecker(eventFiles []string, driverPath string) *FileAccessChecker {
	paths := map[AccessType][]string{
		AccessInputRead:   eventFiles,
		AccessUinputWrite: {UinputPath},
	}
	if driverPath != "" {
		for _, attr := range driverAttrs {
			paths[AccessDriverWrite] = append(paths[AccessDriverWrite], filepath.Join(driverPath, attr))
		}
	}
	return &FileAccessChecker{
		paths: paths,
		modes: map[AccessType]uint32{
			AccessInputRead:   accessRead,
			AccessUinputWrite: accessWrite,
			AccessDriverWrite: accessWrite,
		},
	}
}

// CheckAccess 检查权限状态
func (c *FileAccessChecker) CheckAccess(accessType AccessType) AccessStatus {
	paths := c.paths[accessType]
	if len(paths) == 0 {
		return AccessUnknown
	}
	for _, path := range paths {
		status := checkPath(path, c.modes[accessType])
		if status != AccessGranted {
			return status
		}
	}
	return AccessGranted
}
