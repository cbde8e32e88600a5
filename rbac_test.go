package rbac_test

import (
	"context"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	. "github.com/medconsole/rbac"
	"github.com/medconsole/rbac/persist/fake"
	"github.com/medconsole/rbac/types"
)

var catalog = []types.Permission{
	{ID: "users.view", Name: "View users"},
	{ID: "users.edit", Name: "Edit users"},
	{ID: "permissions.edit", Name: "Edit role permissions"},
	{ID: "stock.add", Name: "Add stock"},
	{ID: "appointments.schedule", Name: "Schedule appointments"},
}

var _ = Describe("authorizer", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
	})

	It("requires a permission catalog", func() {
		_, e := New(ctx, WithLogger(logr.Discard()))
		Expect(e).To(MatchError(types.ErrNoPermissions))
	})

	Context("seed policy", func() {
		It("grants everything to admin and nothing to unconfigured roles", func() {
			authz, e := New(ctx,
				WithLogger(logr.Discard()),
				WithPermissions(catalog...),
				WithSeed(types.Doctor, "appointments.schedule", "users.view"),
				WithSeedPolicy(Seed{types.Pharmacist: {"stock.add"}}),
			)
			Expect(e).To(Succeed())

			Expect(authz.GetPermissions(types.Admin)).To(haveExactKeys("users.view", "users.edit", "permissions.edit", "stock.add", "appointments.schedule"))
			Expect(authz.GetPermissions(types.Doctor)).To(haveExactKeys("appointments.schedule", "users.view"))
			Expect(authz.GetPermissions(types.Pharmacist)).To(haveExactKeys("stock.add"))
			Expect(authz.GetPermissions(types.Receptionist)).To(BeEmpty())
			Expect(authz.GetPermissions(types.Patient)).To(BeEmpty())
		})

		It("seeds patients when configured", func() {
			authz, e := New(ctx, WithLogger(logr.Discard()), WithPermissions(catalog...), WithSeed(types.Patient, "appointments.schedule"))
			Expect(e).To(Succeed())
			Expect(authz.GetPermissions(types.Patient)).To(haveExactKeys("appointments.schedule"))
		})

		It("fails loudly on unknown seed permissions", func() {
			_, e := New(ctx, WithLogger(logr.Discard()), WithPermissions(catalog...), WithSeed(types.Receptionist, "users.view", "billing.export"))
			Expect(e).To(MatchError(types.ErrUnknownPermission))
			Expect(e).To(MatchError(types.ErrValidation))
			Expect(e.Error()).To(ContainSubstring("billing.export"))
		})

		It("fails on unknown seed roles", func() {
			_, e := New(ctx, WithLogger(logr.Discard()), WithPermissions(catalog...), WithSeed(types.Role("NURSE"), "users.view"))
			Expect(e).To(MatchError(types.ErrUnknownRole))
		})

		It("refuses to seed admin", func() {
			_, e := New(ctx, WithLogger(logr.Discard()), WithPermissions(catalog...), WithSeed(types.Admin, "users.view"))
			Expect(e).To(MatchError(types.ErrValidation))
		})

		It("keeps persisted state over the seed", func() {
			pp := fake.NewAssignmentPersister()
			Expect(pp.Insert(ctx, types.Doctor, "stock.add")).To(Succeed())

			authz, e := New(ctx,
				WithLogger(logr.Discard()),
				WithPermissions(catalog...),
				WithPersister(pp),
				WithSeed(types.Doctor, "users.view"),
			)
			Expect(e).To(Succeed())
			Expect(authz.GetPermissions(types.Doctor)).To(haveExactKeys("stock.add"))
			Expect(authz.GetPermissions(types.Admin)).To(BeEmpty())
		})

		It("still validates the seed when persisted state wins", func() {
			pp := fake.NewAssignmentPersister()
			Expect(pp.Insert(ctx, types.Doctor, "stock.add")).To(Succeed())

			_, e := New(ctx, WithLogger(logr.Discard()), WithPermissions(catalog...), WithPersister(pp), WithSeed(types.Doctor, "nope"))
			Expect(e).To(MatchError(types.ErrUnknownPermission))
		})

		It("persists the seed of a fresh deployment", func() {
			pp := fake.NewAssignmentPersister()
			authz, e := New(ctx, WithLogger(logr.Discard()), WithPermissions(catalog...), WithPersister(pp), WithSeed(types.Doctor, "users.view"))
			Expect(e).To(Succeed())
			Expect(authz.Flush(ctx)).To(Succeed())

			Expect(pp.List(ctx)).To(HaveLen(len(catalog) + 1))
			Expect(pp.List(ctx)).To(ContainElement(types.AssignmentPolicy{Role: types.Doctor, PermissionID: "users.view"}))
		})

		It("never seeds again once the assignment is emptied", func() {
			pp := fake.NewAssignmentPersister()

			first, cancelFirst := context.WithCancel(ctx)
			authz, e := New(first, WithLogger(logr.Discard()), WithPermissions(catalog...), WithPersister(pp), WithSeed(types.Doctor, "users.view"))
			Expect(e).To(Succeed())
			Expect(pp.Seeded(ctx)).To(BeTrue())

			for _, role := range types.AllRoles() {
				Expect(authz.ReplaceAll(role, nil)).To(Succeed())
			}
			Expect(authz.Flush(ctx)).To(Succeed())
			Expect(pp.List(ctx)).To(BeEmpty())
			cancelFirst()

			By("restart")
			authz, e = New(ctx, WithLogger(logr.Discard()), WithPermissions(catalog...), WithPersister(pp), WithSeed(types.Doctor, "users.view"))
			Expect(e).To(Succeed())
			Expect(authz.GetPermissions(types.Admin)).To(BeEmpty())
			Expect(authz.GetPermissions(types.Doctor)).To(BeEmpty())
			Expect(authz.Flush(ctx)).To(Succeed())
			Expect(pp.List(ctx)).To(BeEmpty())
		})

		It("marks deployments persisted before the marker existed as seeded", func() {
			pp := fake.NewAssignmentPersister()
			Expect(pp.Insert(ctx, types.Doctor, "stock.add")).To(Succeed())

			_, e := New(ctx, WithLogger(logr.Discard()), WithPermissions(catalog...), WithPersister(pp))
			Expect(e).To(Succeed())
			Expect(pp.Seeded(ctx)).To(BeTrue())
		})

		It("takes an empty persister without a marker as fresh", func() {
			pp := fake.NewAssignmentPersister()
			authz, e := New(ctx, WithLogger(logr.Discard()), WithPermissions(catalog...), WithPersister(unmarked{pp}))
			Expect(e).To(Succeed())
			Expect(authz.Flush(ctx)).To(Succeed())
			Expect(pp.Seeded(ctx)).To(BeFalse())

			authz, e = New(ctx, WithLogger(logr.Discard()), WithPermissions(catalog...), WithPersister(unmarked{pp}))
			Expect(e).To(Succeed())
			Expect(authz.GetPermissions(types.Admin)).To(HaveLen(len(catalog)))
		})
	})

	Context("gated actions", func() {
		var authz types.Authorizer

		BeforeEach(func() {
			var e error
			authz, e = New(ctx, WithLogger(logr.Discard()), WithPermissions(catalog...), WithSeed(types.Receptionist, "appointments.schedule"))
			Expect(e).To(Succeed())
		})

		It("allows principals whose role holds the permission", func() {
			Expect(authz.Allowed(types.RolePrincipal(types.Receptionist), "appointments.schedule")).To(BeTrue())
			Expect(authz.Allowed(types.RolePrincipal(types.Receptionist), "users.edit")).To(BeFalse())
			Expect(authz.Allowed(types.RolePrincipal(types.Admin), "users.edit")).To(BeTrue())
		})

		It("follows changes immediately", func() {
			p := types.RolePrincipal(types.Receptionist)
			Expect(authz.Grant(types.Receptionist, "users.view")).To(Succeed())
			Expect(authz.Allowed(p, "users.view")).To(BeTrue())
			Expect(authz.Toggle(types.Receptionist, "users.view")).To(BeFalse())
			Expect(authz.Allowed(p, "users.view")).To(BeFalse())
		})
	})
})

// unmarked hides the seed marker of the persister it wraps
type unmarked struct {
	types.AssignmentPersister
}
