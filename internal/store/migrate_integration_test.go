// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

//go:build integration

package store_test

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/taskpulse/taskpulse/internal/store"
)

// scratchDatabase creates an empty database next to the suite's one and
// returns its connection string.
func scratchDatabase(ctx context.Context, name string) string {
	_, err := testPool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", pgx.Identifier{name}.Sanitize()))
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() {
		_, _ = testPool.Exec(context.Background(),
			fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", pgx.Identifier{name}.Sanitize()))
	})

	u, err := url.Parse(testConnStr)
	Expect(err).NotTo(HaveOccurred())
	u.Path = "/" + name
	return u.String()
}

func tableExists(ctx context.Context, connStr, table string) bool {
	conn, err := pgx.Connect(ctx, connStr)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = conn.Close(ctx) }()

	var exists bool
	err = conn.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, "public."+table).Scan(&exists)
	Expect(err).NotTo(HaveOccurred())
	return exists
}

var _ = Describe("Migrator", func() {
	var (
		ctx      context.Context
		connStr  string
		migrator *store.Migrator
	)

	BeforeEach(func() {
		ctx = context.Background()
		connStr = scratchDatabase(ctx, "taskpulse_migrate")

		var err error
		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = migrator.Close() })
	})

	It("starts empty with everything pending", func() {
		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Version).To(BeZero())
		Expect(status.Dirty).To(BeFalse())
		Expect(status.Applied).To(BeEmpty())
		Expect(status.Pending).To(Equal([]uint{1, 2, 3}))
	})

	It("applies and reverts the whole schema", func() {
		Expect(migrator.Up()).To(Succeed())

		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Name).To(Equal("000003_task_comments"))
		Expect(status.Pending).To(BeEmpty())
		for _, table := range []string{"users", "projects", "project_members", "boards", "tasks", "task_comments"} {
			Expect(tableExists(ctx, connStr, table)).To(BeTrue(), table)
		}

		Expect(migrator.Down()).To(Succeed())
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
		Expect(dirty).To(BeFalse())
		Expect(tableExists(ctx, connStr, "tasks")).To(BeFalse())
	})

	It("steps one migration at a time", func() {
		Expect(migrator.Steps(2)).To(Succeed())
		applied, err := migrator.AppliedMigrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(applied).To(Equal([]uint{1, 2}))
		Expect(tableExists(ctx, connStr, "task_comments")).To(BeFalse())

		Expect(migrator.Steps(1)).To(Succeed())
		Expect(tableExists(ctx, connStr, "task_comments")).To(BeTrue())

		Expect(migrator.Steps(-1)).To(Succeed())
		pending, err := migrator.PendingMigrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(Equal([]uint{3}))
	})

	It("forces the recorded version without running migrations", func() {
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Force(1)).To(Succeed())

		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))
		Expect(dirty).To(BeFalse())
		Expect(tableExists(ctx, connStr, "task_comments")).To(BeTrue())
	})
})
