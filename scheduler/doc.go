// Copyright (c) HiveTrain Authors.
// Licensed under the MIT License.

/*
Package scheduler 实现分层并行批次训练调度核心。

# 概述

一组长生命周期协程按固定扇出组织成递归、自相似的树。每个 epoch 中
根控制节点把 BatchSource 的批次播种进有界无锁队列，叶子并行计算梯度，
分支节点在自己的 Computing 阶段驱动一整轮子组协议。所有梯度最终汇入
静态分段的共享缓冲，由根节点求均值、裁剪并通过 Model.ApplyGradients
更新权重。

# 轮次协议

每个组（分支节点加其子节点）每轮经过三道屏障：

  - 起始屏障：控制节点已重置队列，成员开始拉取
  - 排空屏障：队列排空，成员停止拉取，私有 partial 变为只读
  - 完成屏障：每个成员刷写完自己的段（独占下标普通写，接缝原子加）

完成屏障之后控制节点单线程归约。任一成员失败时整个训练步被中止，
不会应用部分梯度。

# 核心类型

  - Scheduler      - 拥有层级、权重与全部协程
  - WorkQueue      - 有界 MPMC 环形队列，带序号戳与完成标志
  - GradientBuffer - 按 worker 静态分段的梯度缓冲
  - Barrier        - 可复用、按代计数、可中止的屏障
  - Node / Role    - 层级树节点，Role 为 Leaf 或 Branch
  - WeightStore    - 只读视图与 scratch 提交

# 错误

BatchError、NumericError、ApplyError 从 RunEpoch 返回；StructuralError
只在构造期以 panic 出现；关闭后返回 ErrShutdown。所有错误都实现
types.Coded。
*/
package scheduler
