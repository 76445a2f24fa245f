package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// ErrDirty 上次迁移中途失败，需要先 force 到一个确定的版本
var ErrDirty = errors.New("database is in a dirty migration state")

// CLI 把 Migrator 的结果格式化为 hivetrain migrate 子命令的输出
type CLI struct {
	migrator Migrator
	out      io.Writer
}

// CLIOption 配置 CLI
type CLIOption func(*CLI)

// WithOutput 设置输出位置，默认 os.Stdout
func WithOutput(w io.Writer) CLIOption {
	return func(c *CLI) {
		if w != nil {
			c.out = w
		}
	}
}

// NewCLI 创建 CLI
func NewCLI(migrator Migrator, opts ...CLIOption) *CLI {
	c := &CLI{migrator: migrator, out: os.Stdout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// guardClean dirty 状态下拒绝 up/down，提示用 force 修复
func (c *CLI) guardClean(ctx context.Context) (uint, error) {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("%w at version %d; fix the schema by hand, then run `hivetrain migrate force %d`",
			ErrDirty, version, version)
	}
	return version, nil
}

// RunUp 应用全部待执行迁移，并列出本次应用的版本
func (c *CLI) RunUp(ctx context.Context) error {
	before, err := c.guardClean(ctx)
	if err != nil {
		return err
	}
	if err := c.migrator.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return err
	}
	applied := 0
	for _, s := range statuses {
		if s.Applied && s.Version > before {
			fmt.Fprintf(c.out, "  applied %06d_%s\n", s.Version, s.Name)
			applied++
		}
	}
	after, _, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	if applied == 0 {
		fmt.Fprintf(c.out, "Schema is up to date. Current version: %d\n", after)
		return nil
	}
	fmt.Fprintf(c.out, "Applied %d migration(s). Current version: %d\n", applied, after)
	return nil
}

// RunDown 回滚最近一个版本；从未迁移过时什么都不做
func (c *CLI) RunDown(ctx context.Context) error {
	before, err := c.guardClean(ctx)
	if err != nil {
		return err
	}
	if before == 0 {
		fmt.Fprintln(c.out, "Nothing to roll back.")
		return nil
	}
	if err := c.migrator.Down(ctx); err != nil {
		return fmt.Errorf("roll back version %d: %w", before, err)
	}
	after, _, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Rolled back %06d. Current version: %d\n", before, after)
	return nil
}

// RunForce 标记版本但不执行 SQL，用于清除 dirty 状态
func (c *CLI) RunForce(ctx context.Context, version int) error {
	if version < 0 {
		return fmt.Errorf("version must be >= 0, got %d", version)
	}
	if err := c.migrator.Force(ctx, version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	fmt.Fprintf(c.out, "Schema version forced to %d\n", version)
	return nil
}

// RunVersion 输出当前版本
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch {
	case version == 0:
		fmt.Fprintln(c.out, "No migrations applied yet.")
	case dirty:
		fmt.Fprintf(c.out, "Current version: %d (dirty)\n", version)
	default:
		fmt.Fprintf(c.out, "Current version: %d\n", version)
	}
	return nil
}

// RunStatus 以表格列出每个迁移的状态
func (c *CLI) RunStatus(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("read migration info: %w", err)
	}
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "No migrations embedded for this database type.")
		return nil
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATUS")
	for _, s := range statuses {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
		case s.Applied:
			state = "applied"
		}
		fmt.Fprintf(tw, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n%d applied, %d pending (current version %d)\n",
		info.AppliedMigrations, info.PendingMigrations, info.CurrentVersion)
	if info.Dirty {
		fmt.Fprintf(c.out, "Version %d is dirty: run `hivetrain migrate force <version>` after repairing the schema.\n",
			info.CurrentVersion)
	}
	return nil
}
