// Package services 提供业务流程编排
//
// Service 层协调 monitor 与 storage，实现应用级用例：
//   - 宏的加载、增删与录制后的持久化
//   - 启动前的设备访问权限检查
//
// 它不包含按键处理逻辑（在 monitor 包中），只负责编排。

package services
