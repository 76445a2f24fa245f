// Package linreg 提供一个线性回归模型与确定性的合成数据源，
// 作为 scheduler.Model / scheduler.BatchSource 的参考实现，
// 供 hivetrain train 命令与端到端测试使用。
package linreg
