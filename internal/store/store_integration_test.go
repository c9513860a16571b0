// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

//go:build integration

package store_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/taskpulse/taskpulse/internal/store"
	"github.com/taskpulse/taskpulse/pkg/errutil"
)

var _ = Describe("Store", func() {
	var (
		ctx     context.Context
		owner   store.User
		project store.Project
	)

	BeforeEach(func() {
		truncateAll()
		ctx = context.Background()

		var err error
		owner, err = testStore.CreateUser(ctx, "owner", "member")
		Expect(err).NotTo(HaveOccurred())
		project, err = testStore.CreateProject(ctx, "Launch", "", owner.ID)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("users", func() {
		It("rejects duplicate usernames", func() {
			_, err := testStore.CreateUser(ctx, "owner", "admin")
			Expect(errutil.Code(err)).To(Equal("USERNAME_TAKEN"))
		})
	})

	Describe("projects", func() {
		It("makes the creator an owner", func() {
			role, err := testStore.MemberRole(ctx, project.ID, owner.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(role).To(Equal(store.MemberOwner))

			projects, err := testStore.ListProjects(ctx, owner.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(projects).To(ConsistOf(project))
		})

		It("detects duplicate and dangling memberships", func() {
			other, err := testStore.CreateUser(ctx, "other", "member")
			Expect(err).NotTo(HaveOccurred())

			_, err = testStore.AddMember(ctx, project.ID, other.ID, store.MemberEditor)
			Expect(err).NotTo(HaveOccurred())

			_, err = testStore.AddMember(ctx, project.ID, other.ID, store.MemberViewer)
			Expect(errutil.Code(err)).To(Equal("MEMBER_EXISTS"))

			_, err = testStore.AddMember(ctx, project.ID, 9999, store.MemberViewer)
			Expect(errutil.Code(err)).To(Equal("USER_NOT_FOUND"))

			_, err = testStore.AddMember(ctx, 9999, other.ID, store.MemberViewer)
			Expect(errutil.Code(err)).To(Equal("PROJECT_NOT_FOUND"))
		})

		It("rolls back the project when the transaction fails", func() {
			boom := errors.New("boom")
			err := testStore.InTx(ctx, func(ctx context.Context) error {
				if _, err := testStore.CreateProject(ctx, "Doomed", "", owner.ID); err != nil {
					return err
				}
				return boom
			})
			Expect(err).To(MatchError(boom))

			projects, err := testStore.ListProjects(ctx, owner.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(projects).To(HaveLen(1))
		})
	})

	Describe("tasks", func() {
		var board store.Board

		BeforeEach(func() {
			var err error
			board, err = testStore.CreateBoard(ctx, project.ID, "Backlog")
			Expect(err).NotTo(HaveOccurred())
		})

		newTask := func(title, priority string, due time.Time) store.Task {
			t, err := testStore.CreateTask(ctx, store.TaskInput{
				Title:     title,
				DueDate:   due,
				ProjectID: project.ID,
				BoardID:   &board.ID,
				Priority:  priority,
			})
			Expect(err).NotTo(HaveOccurred())
			return t
		}

		It("filters, searches, and sorts", func() {
			now := time.Now().UTC()
			newTask("Write docs", store.PriorityLow, now.Add(time.Hour))
			newTask("Write tests", store.PriorityHigh, now.Add(2*time.Hour))
			newTask("Deploy", store.PriorityMedium, now.Add(3*time.Hour))

			tasks, err := testStore.ListTasks(ctx, store.TaskFilter{
				ProjectID:  project.ID,
				Search:     "WRITE",
				SortBy:     store.SortPriority,
				Descending: true,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(tasks).To(HaveLen(2))
			Expect(tasks[0].Title).To(Equal("Write tests"))
			Expect(tasks[1].Title).To(Equal("Write docs"))

			page, err := testStore.ListTasks(ctx, store.TaskFilter{SortBy: store.SortDueDate, Limit: 1, Offset: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(page).To(HaveLen(1))
			Expect(page[0].Title).To(Equal("Deploy"))
		})

		It("patches, toggles, and deletes", func() {
			task := newTask("Draft", "", time.Now().Add(time.Hour))
			Expect(task.Priority).To(Equal(store.PriorityMedium))

			title := "Final"
			patched, err := testStore.PatchTask(ctx, task.ID, store.TaskPatch{Title: &title})
			Expect(err).NotTo(HaveOccurred())
			Expect(patched.Title).To(Equal("Final"))
			Expect(patched.BoardID).To(HaveValue(Equal(board.ID)))

			toggled, err := testStore.ToggleTask(ctx, task.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(toggled.Completed).To(BeTrue())

			deleted, err := testStore.DeleteTask(ctx, task.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted.Title).To(Equal("Final"))

			_, err = testStore.GetTask(ctx, task.ID)
			Expect(errutil.Code(err)).To(Equal("TASK_NOT_FOUND"))
		})

		It("finds tasks due today and overdue", func() {
			now := time.Now().UTC()
			dueToday := newTask("Today", "", now)
			newTask("Next week", "", now.Add(7*24*time.Hour))
			done := newTask("Done", "", now.Add(-time.Hour))
			_, err := testStore.ToggleTask(ctx, done.ID)
			Expect(err).NotTo(HaveOccurred())

			today, err := testStore.TasksDueOn(ctx, owner.ID, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(today).To(HaveLen(1))
			Expect(today[0].ID).To(Equal(dueToday.ID))

			overdue, err := testStore.OverdueTasks(ctx, now.Add(time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(overdue).To(HaveLen(1))
			Expect(overdue[0].ID).To(Equal(dueToday.ID))
		})

		It("cascades comments when a task is deleted", func() {
			task := newTask("Review", "", time.Now().Add(time.Hour))
			_, err := testStore.AddComment(ctx, task.ID, owner.ID, "lgtm")
			Expect(err).NotTo(HaveOccurred())

			_, err = testStore.DeleteTask(ctx, task.ID)
			Expect(err).NotTo(HaveOccurred())

			comments, err := testStore.ListComments(ctx, task.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(comments).To(BeEmpty())
		})
	})
})
