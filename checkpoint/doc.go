// Copyright (c) HiveTrain Authors.
// Licensed under the MIT License.

/*
包 checkpoint 持久化训练运行、逐 epoch 历史与权重检查点。

  - Run / EpochRecord / Checkpoint：GORM 模型，对应 internal/migration
    维护的 training_runs、epoch_records、checkpoints 三张表。
  - Store：建立在 database.PoolManager 之上，写操作走带退避的事务重试。
  - 权重以小端 float64 序列存储，附带 sha256 校验；Checkpoint.Weights
    在解码前校验，损坏时返回 *CorruptError（CHECKPOINT_FAILED）。
*/
package checkpoint
