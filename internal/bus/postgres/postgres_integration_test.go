// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

//go:build integration

package postgres_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/taskpulse/taskpulse/internal/bus"
	pgbus "github.com/taskpulse/taskpulse/internal/bus/postgres"
)

var _ = Describe("LISTEN/NOTIFY link", func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		pool      *pgxpool.Pool
		link      *bus.Link
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("taskpulse_test"),
			postgres.WithUsername("taskpulse"),
			postgres.WithPassword("taskpulse"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		pool, err = pgxpool.New(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())

		link = bus.NewLink(pgbus.New(pool, pool.Config().ConnConfig),
			bus.WithReconnectConfig(10*time.Millisecond, 100*time.Millisecond))
		Expect(link.Start(ctx)).To(Succeed())
		Eventually(link.Connected).WithTimeout(10 * time.Second).Should(BeTrue())
	})

	AfterEach(func() {
		_ = link.Close()
		pool.Close()
		_ = container.Terminate(ctx)
	})

	It("delivers notifications for a project topic", func() {
		sub, err := link.Subscribe("task_updates:42")
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() []byte {
			_ = link.Publish(ctx, "task_updates:42", []byte("New task: Buy milk"))
			select {
			case payload := <-sub.C():
				return payload
			case <-time.After(100 * time.Millisecond):
				return nil
			}
		}).WithTimeout(5 * time.Second).Should(Equal([]byte("New task: Buy milk")))
	})

	It("resumes listening after the backend is terminated", func() {
		sub, err := link.Subscribe("task_updates:7")
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() int64 {
			var n int64
			_ = pool.QueryRow(ctx,
				`SELECT count(*) FROM pg_stat_activity WHERE query LIKE 'LISTEN%'`).Scan(&n)
			return n
		}).WithTimeout(5 * time.Second).Should(BeNumerically("==", 1))

		_, err = pool.Exec(ctx,
			`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE query LIKE 'LISTEN%'`)
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() []byte {
			_ = link.Publish(ctx, "task_updates:7", []byte("after reconnect"))
			select {
			case payload := <-sub.C():
				return payload
			case <-time.After(100 * time.Millisecond):
				return nil
			}
		}).WithTimeout(10 * time.Second).Should(Equal([]byte("after reconnect")))
	})
})
