// Copyright (c) HiveTrain Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 hivetrain 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试与基准测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文: TestContext / TestContextWithTimeout / CancelledContext，
    通过 t.Cleanup 取消
  - 数值断言: AssertFloatsNear（报告第一个偏差位置）/ AssertAllFinite
  - 异步等待: WaitFor / AssertEventuallyTrue / WaitForChannel
  - 切片: CopyFloats / SumFloats

# 子包

  - testutil/mocks: MockModel（可注入错误、NaN、panic 与阻塞的
    scheduler.Model）与 SliceSource（切片批次来源）
  - testutil/fixtures: 单层/分层调度配置、零权重、乱序批次

# 使用示例

	ctx := testutil.TestContext(t)
	model := mocks.NewMockModel().WithFailOn(3, errors.New("bad batch"))
	s := scheduler.New(fixtures.FlatConfig(2, 4), model, mocks.NewSliceSource(10), fixtures.ZeroWeights(8))
*/
package testutil
