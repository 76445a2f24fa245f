// Copyright (c) HiveTrain Authors.
// Licensed under the MIT License.

/*
Package trainer 在调度器之上实现完整的训练循环。

# 概述

Trainer 反复调用 Stepper.RunEpoch（通常是 *scheduler.Scheduler），
负责每个 epoch 之间的所有事情：

  - 按 LRSchedule（线性预热 + 余弦衰减）设置学习率
  - 应用热更新的超参数，下一个 epoch 生效
  - 维护内存历史（最多 1000 条）并写入 Store
  - 每 CheckpointEvery 个成功 epoch 保存权重检查点
  - 通过 Publisher 推送快照
  - 早停、连续失败上限与外部 Stop

# 失败分类

数值异常、Apply 失败与单 epoch 超时是可恢复的：本步被跳过，权重不变，
训练继续；连续达到 MaxConsecutiveFailures 次后以 too_many_failures 停止。
批次失败与调度器关闭等其他错误立即终止运行。
*/
package trainer
