package test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/medconsole/rbac/types"
)

var ap types.AssignmentPersister

// TestAssignmentPersister sets the persister AssignmentCases run against, it should be empty
func TestAssignmentPersister(p types.AssignmentPersister) {
	ap = p
}

var AssignmentCases = Describe("assignment persister", func() {
	insertPolices := []types.AssignmentPolicy{
		{Role: types.Doctor, PermissionID: "patients.view"},
		{Role: types.Doctor, PermissionID: "appointments.schedule"},
		{Role: types.Pharmacist, PermissionID: "stock.add"},
		{Role: types.Pharmacist, PermissionID: "stock.view"},
		{Role: types.Receptionist, PermissionID: "appointments.schedule"},
	}
	removePolices := []types.AssignmentPolicy{
		{Role: types.Doctor, PermissionID: "appointments.schedule"},
		{Role: types.Pharmacist, PermissionID: "stock.add"},
	}

	changes := make([]types.AssignmentPolicyChange, 0, len(insertPolices)+len(removePolices))
	for _, policy := range insertPolices {
		changes = append(changes, types.AssignmentPolicyChange{
			AssignmentPolicy: policy,
			Method:           types.PersistInsert,
		})
	}
	for _, policy := range removePolices {
		changes = append(changes, types.AssignmentPolicyChange{
			AssignmentPolicy: policy,
			Method:           types.PersistDelete,
		})
	}

	It("should do assignment policy curd", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		By("insert and remove single policy only once")
		policy := insertPolices[0]
		Expect(ap.Insert(ctx, policy.Role, policy.PermissionID)).To(Succeed())
		Expect(ap.Insert(ctx, policy.Role, policy.PermissionID)).To(MatchError(types.ErrAlreadyExists))

		Expect(ap.Remove(ctx, policy.Role, policy.PermissionID)).To(Succeed())
		Expect(ap.Remove(ctx, policy.Role, policy.PermissionID)).To(MatchError(types.ErrNotFound))
		Expect(ap.List(ctx)).To(BeEmpty())

		By("start watching assignment policy changes")
		wctx, stopWatching := context.WithCancel(ctx)
		defer stopWatching()
		w, e := ap.Watch(wctx)
		Expect(e).To(Succeed())

		go func() {
			defer GinkgoRecover()

			for _, policy := range insertPolices {
				Expect(ap.Insert(ctx, policy.Role, policy.PermissionID)).To(Succeed())
			}
			for _, policy := range removePolices {
				Expect(ap.Remove(ctx, policy.Role, policy.PermissionID)).To(Succeed())
			}
		}()

		By("receive changes in order")
		for _, change := range changes {
			var got types.AssignmentPolicyChange
			Eventually(w, "5s").Should(Receive(&got))
			Expect(got).To(Equal(change))
		}
		Consistently(w).ShouldNot(Receive())

		By("list remaining polices")
		Expect(ap.List(ctx)).To(ConsistOf(
			types.AssignmentPolicy{Role: types.Doctor, PermissionID: "patients.view"},
			types.AssignmentPolicy{Role: types.Pharmacist, PermissionID: "stock.view"},
			types.AssignmentPolicy{Role: types.Receptionist, PermissionID: "appointments.schedule"},
		))

		By("clean up")
		stopWatching()
		Eventually(w, "5s").Should(BeClosed())
		for _, policy := range []types.AssignmentPolicy{
			{Role: types.Doctor, PermissionID: "patients.view"},
			{Role: types.Pharmacist, PermissionID: "stock.view"},
			{Role: types.Receptionist, PermissionID: "appointments.schedule"},
		} {
			Expect(ap.Remove(ctx, policy.Role, policy.PermissionID)).To(Succeed())
		}
	})

	It("should remember the seed policy was applied", func() {
		m, ok := ap.(types.SeedMarker)
		if !ok {
			Skip("persister does not keep a seed marker")
		}
		ctx := context.Background()

		Expect(m.Seeded(ctx)).To(BeFalse())
		Expect(m.MarkSeeded(ctx)).To(Succeed())
		Expect(m.Seeded(ctx)).To(BeTrue())
		Expect(m.MarkSeeded(ctx)).To(Succeed())
		Expect(m.Seeded(ctx)).To(BeTrue())

		By("the marker is not a policy")
		Expect(ap.List(ctx)).To(BeEmpty())
	})

	It("should close watching channel when context is done", func() {
		ctx, cancel := context.WithCancel(context.Background())
		w, e := ap.Watch(ctx)
		Expect(e).To(Succeed())

		cancel()
		Eventually(w, "5s").Should(BeClosed())
	})
})
