package assignment

import (
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/medconsole/rbac/internal/registry"
	"github.com/medconsole/rbac/types"
)

type rememberer struct {
	changes []types.AssignmentPolicyChange
	sync.Mutex
}

func (r *rememberer) record(changes ...types.AssignmentPolicyChange) {
	r.Lock()
	r.changes = append(r.changes, changes...)
	r.Unlock()
}

var _ = Describe("assignment store", func() {
	var (
		reg *registry.Registry
		s   *Store
	)

	BeforeEach(func() {
		reg = newRegistry(catalog...)
		s = NewStore(reg, logger)
	})

	It("has an empty record for every role", func() {
		for _, role := range types.AllRoles() {
			Expect(s.GetPermissions(role)).To(BeEmpty(), string(role))
		}
	})

	It("rejects unknown roles everywhere", func() {
		nurse := types.Role("NURSE")
		_, e := s.GetPermissions(nurse)
		Expect(e).To(MatchError(types.ErrUnknownRole))
		_, e = s.HasPermission(nurse, "users.view")
		Expect(e).To(MatchError(types.ErrUnknownRole))
		Expect(s.Grant(nurse, "users.view")).To(MatchError(types.ErrUnknownRole))
		Expect(s.Revoke(nurse, "users.view")).To(MatchError(types.ErrUnknownRole))
		_, e = s.Toggle(nurse, "users.view")
		Expect(e).To(MatchError(types.ErrUnknownRole))
		Expect(s.ReplaceAll(nurse, []string{"users.view"})).To(MatchError(types.ErrUnknownRole))
	})

	It("checks the role before the permission", func() {
		Expect(s.Grant(types.Role("NURSE"), "nope")).To(MatchError(types.ErrUnknownRole))
	})

	It("returns copies, never live views", func() {
		Expect(s.Grant(types.Doctor, "users.view")).To(Succeed())
		perms, e := s.GetPermissions(types.Doctor)
		Expect(e).To(Succeed())
		perms["roles.edit"] = struct{}{}
		Expect(s.HasPermission(types.Doctor, "roles.edit")).To(BeFalse())
	})

	It("rejects unknown permission ids on check", func() {
		granted, e := s.HasPermission(types.Doctor, "nope")
		Expect(e).To(MatchError(types.ErrUnknownPermission))
		Expect(e.Error()).To(ContainSubstring(`"nope"`))
		Expect(granted).To(BeFalse())

		_, e = s.HasPermission(types.Role("NURSE"), "nope")
		Expect(e).To(MatchError(types.ErrUnknownRole))
	})

	DescribeTable("grant then check",
		func(role types.Role, id string) {
			Expect(s.Grant(role, id)).To(Succeed())
			Expect(s.HasPermission(role, id)).To(BeTrue())
			Expect(s.Revoke(role, id)).To(Succeed())
			Expect(s.HasPermission(role, id)).To(BeFalse())
		},
		Entry("doctor schedules appointments", types.Doctor, "appointments.schedule"),
		Entry("pharmacist adds stock", types.Pharmacist, "stock.add"),
		Entry("admin edits roles", types.Admin, "roles.edit"),
	)

	It("is idempotent on grant and revoke", func() {
		Expect(s.Grant(types.Pharmacist, "stock.add")).To(Succeed())
		once, _ := s.GetPermissions(types.Pharmacist)
		Expect(s.Grant(types.Pharmacist, "stock.add")).To(Succeed())
		Expect(s.GetPermissions(types.Pharmacist)).To(Equal(once))

		Expect(s.Revoke(types.Pharmacist, "stock.add")).To(Succeed())
		once, _ = s.GetPermissions(types.Pharmacist)
		Expect(s.Revoke(types.Pharmacist, "stock.add")).To(Succeed())
		Expect(s.GetPermissions(types.Pharmacist)).To(Equal(once))
		Expect(once).To(BeEmpty())
	})

	It("toggles back to the original state when applied twice", func() {
		Expect(s.ReplaceAll(types.Receptionist, []string{"users.view", "appointments.schedule"})).To(Succeed())
		before, _ := s.GetPermissions(types.Receptionist)

		for _, id := range reg.IDs() {
			first, e := s.Toggle(types.Receptionist, id)
			Expect(e).To(Succeed())
			second, e := s.Toggle(types.Receptionist, id)
			Expect(e).To(Succeed())
			Expect(first).NotTo(Equal(second))
			Expect(s.GetPermissions(types.Receptionist)).To(Equal(before), id)
		}
	})

	It("replaces all permissions of a role", func() {
		Expect(s.ReplaceAll(types.Doctor, []string{"users.view", "users.edit"})).To(Succeed())
		Expect(s.ReplaceAll(types.Doctor, []string{"users.edit", "stock.add", "stock.add"})).To(Succeed())
		Expect(s.GetPermissions(types.Doctor)).To(Equal(set("users.edit", "stock.add")))

		Expect(s.ReplaceAll(types.Doctor, nil)).To(Succeed())
		Expect(s.GetPermissions(types.Doctor)).To(BeEmpty())
	})

	It("leaves state unchanged when replacing with an invalid id", func() {
		Expect(s.ReplaceAll(types.Doctor, []string{"users.view"})).To(Succeed())

		e := s.ReplaceAll(types.Doctor, []string{"users.edit", "bad.one", "worse.one"})
		Expect(e).To(MatchError(types.ErrValidation))
		Expect(e).To(MatchError(types.ErrUnknownPermission))
		Expect(e.Error()).To(ContainSubstring(`"bad.one"`))
		Expect(e.Error()).NotTo(ContainSubstring("worse.one"))

		Expect(s.GetPermissions(types.Doctor)).To(Equal(set("users.view")))
	})

	It("walks the concrete doctor scenario", func() {
		s = NewStore(newRegistry(types.Permission{ID: "users.view"}, types.Permission{ID: "users.edit"}), logger)
		Expect(s.ReplaceAll(types.Doctor, []string{})).To(Succeed())

		Expect(s.Grant(types.Doctor, "users.view")).To(Succeed())
		Expect(s.GetPermissions(types.Doctor)).To(Equal(set("users.view")))

		Expect(s.Toggle(types.Doctor, "users.view")).To(BeFalse())
		Expect(s.GetPermissions(types.Doctor)).To(BeEmpty())

		Expect(s.Grant(types.Doctor, "nope")).To(MatchError(types.ErrUnknownPermission))
		Expect(s.GetPermissions(types.Doctor)).To(BeEmpty())
	})

	It("only ever holds registered ids", func() {
		ops := []func() error{
			func() error { return s.Grant(types.Doctor, "users.view") },
			func() error { return s.Grant(types.Doctor, "ghost") },
			func() error { _, e := s.Toggle(types.Doctor, "phantom"); return e },
			func() error { return s.ReplaceAll(types.Patient, []string{"users.view", "spirit"}) },
			func() error { return s.ReplaceAll(types.Patient, []string{"roles.view"}) },
			func() error { return s.Revoke(types.Patient, "wraith") },
		}
		for _, op := range ops {
			_ = op()
		}

		for _, role := range types.AllRoles() {
			perms, e := s.GetPermissions(role)
			Expect(e).To(Succeed())
			for id := range perms {
				Expect(reg.Exists(id)).To(BeTrue(), fmt.Sprintf("%s holds %s", role, id))
			}
		}
	})

	Context("recording changes", func() {
		var r *rememberer

		BeforeEach(func() {
			r = &rememberer{}
			s.rec = r
		})

		It("records only effective changes", func() {
			Expect(s.Grant(types.Doctor, "users.view")).To(Succeed())
			Expect(s.Grant(types.Doctor, "users.view")).To(Succeed())
			Expect(s.Revoke(types.Doctor, "users.edit")).To(Succeed())
			Expect(s.Toggle(types.Doctor, "users.view")).To(BeFalse())
			Expect(s.Grant(types.Doctor, "nope")).NotTo(Succeed())

			Expect(r.changes).To(Equal([]types.AssignmentPolicyChange{
				{AssignmentPolicy: types.AssignmentPolicy{Role: types.Doctor, PermissionID: "users.view"}, Method: types.PersistInsert},
				{AssignmentPolicy: types.AssignmentPolicy{Role: types.Doctor, PermissionID: "users.view"}, Method: types.PersistDelete},
			}))
		})

		It("records the diff of replace all", func() {
			Expect(s.ReplaceAll(types.Doctor, []string{"users.view", "users.edit"})).To(Succeed())
			r.changes = nil

			Expect(s.ReplaceAll(types.Doctor, []string{"users.edit", "stock.add"})).To(Succeed())
			Expect(r.changes).To(Equal([]types.AssignmentPolicyChange{
				{AssignmentPolicy: types.AssignmentPolicy{Role: types.Doctor, PermissionID: "users.view"}, Method: types.PersistDelete},
				{AssignmentPolicy: types.AssignmentPolicy{Role: types.Doctor, PermissionID: "stock.add"}, Method: types.PersistInsert},
			}))
		})

		It("does not record remote changes", func() {
			Expect(s.apply(types.AssignmentPolicyChange{
				AssignmentPolicy: types.AssignmentPolicy{Role: types.Doctor, PermissionID: "users.view"},
				Method:           types.PersistInsert,
			})).To(Succeed())
			Expect(s.HasPermission(types.Doctor, "users.view")).To(BeTrue())
			Expect(r.changes).To(BeEmpty())
		})
	})

	It("rejects invalid remote changes", func() {
		Expect(s.apply(types.AssignmentPolicyChange{
			AssignmentPolicy: types.AssignmentPolicy{Role: types.Doctor, PermissionID: "ghost"},
			Method:           types.PersistInsert,
		})).To(MatchError(types.ErrUnknownPermission))
		Expect(s.apply(types.AssignmentPolicyChange{
			AssignmentPolicy: types.AssignmentPolicy{Role: types.Doctor, PermissionID: "users.view"},
			Method:           types.PersistMethod("update"),
		})).To(MatchError(types.ErrUnsupportedChange))
	})
})
