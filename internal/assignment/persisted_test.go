package assignment

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/medconsole/rbac/persist/fake"
	"github.com/medconsole/rbac/types"
)

// brokenPersister fails every write
type brokenPersister struct {
	types.AssignmentPersister
}

var errBroken = errors.New("storage is down")

func (brokenPersister) Insert(context.Context, types.Role, string) error { return errBroken }
func (brokenPersister) Remove(context.Context, types.Role, string) error { return errBroken }

var _ = Describe("persisted assignment", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		pp     types.AssignmentPersister
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		pp = fake.NewAssignmentPersister()
	})

	AfterEach(func() {
		cancel()
	})

	It("writes changes to the persister", func() {
		p, e := NewPersisted(ctx, newRegistry(catalog...), pp, logger, nil)
		Expect(e).To(Succeed())
		Expect(p.Loaded()).To(BeZero())

		Expect(p.Grant(types.Doctor, "users.view")).To(Succeed())
		Expect(p.ReplaceAll(types.Pharmacist, []string{"stock.add", "users.view"})).To(Succeed())
		Expect(p.Toggle(types.Pharmacist, "users.view")).To(BeFalse())
		Expect(p.Flush(ctx)).To(Succeed())

		Expect(pp.List(ctx)).To(ConsistOf(
			types.AssignmentPolicy{Role: types.Doctor, PermissionID: "users.view"},
			types.AssignmentPolicy{Role: types.Pharmacist, PermissionID: "stock.add"},
		))
	})

	It("loads persisted polices after restart", func() {
		first, e := NewPersisted(ctx, newRegistry(catalog...), pp, logger, nil)
		Expect(e).To(Succeed())
		Expect(first.ReplaceAll(types.Receptionist, []string{"appointments.schedule", "users.view"})).To(Succeed())
		Expect(first.Flush(ctx)).To(Succeed())
		cancel()

		ctx, cancel = context.WithCancel(context.Background())
		second, e := NewPersisted(ctx, newRegistry(catalog...), pp, logger, nil)
		Expect(e).To(Succeed())
		Expect(second.Loaded()).To(Equal(2))
		Expect(second.GetPermissions(types.Receptionist)).To(Equal(set("appointments.schedule", "users.view")))
	})

	It("refuses to start with dangling permission ids", func() {
		Expect(pp.Insert(ctx, types.Doctor, "retired.permission")).To(Succeed())

		_, e := NewPersisted(ctx, newRegistry(catalog...), pp, logger, nil)
		Expect(e).To(MatchError(types.ErrUnknownPermission))
		Expect(e.Error()).To(ContainSubstring("retired.permission"))
	})

	It("refuses to start with unknown roles", func() {
		Expect(pp.Insert(ctx, types.Role("JANITOR"), "users.view")).To(Succeed())

		_, e := NewPersisted(ctx, newRegistry(catalog...), pp, logger, nil)
		Expect(e).To(MatchError(types.ErrUnknownRole))
	})

	It("applies changes made by others", func() {
		p, e := NewPersisted(ctx, newRegistry(catalog...), pp, logger, nil)
		Expect(e).To(Succeed())

		Expect(pp.Insert(ctx, types.Doctor, "roles.view")).To(Succeed())
		Eventually(func() (bool, error) { return p.HasPermission(types.Doctor, "roles.view") }).Should(BeTrue())

		Expect(pp.Remove(ctx, types.Doctor, "roles.view")).To(Succeed())
		Eventually(func() (bool, error) { return p.HasPermission(types.Doctor, "roles.view") }).Should(BeFalse())
	})

	It("skips remote changes about unknown permissions", func() {
		p, e := NewPersisted(ctx, newRegistry(catalog...), pp, logger, nil)
		Expect(e).To(Succeed())

		Expect(pp.Insert(ctx, types.Doctor, "ghost")).To(Succeed())
		Expect(pp.Insert(ctx, types.Doctor, "users.edit")).To(Succeed())
		Eventually(func() (bool, error) { return p.HasPermission(types.Doctor, "users.edit") }).Should(BeTrue())
		Expect(p.GetPermissions(types.Doctor)).To(Equal(set("users.edit")))
	})

	It("does not apply its own changes twice", func() {
		p, e := NewPersisted(ctx, newRegistry(catalog...), pp, logger, nil)
		Expect(e).To(Succeed())

		Expect(p.Grant(types.Doctor, "users.view")).To(Succeed())
		Expect(p.Revoke(types.Doctor, "users.view")).To(Succeed())
		Expect(p.Flush(ctx)).To(Succeed())

		Consistently(func() (bool, error) { return p.HasPermission(types.Doctor, "users.view") }).Should(BeFalse())
		Expect(pp.List(ctx)).To(BeEmpty())
	})

	It("reports failed writes without undoing accepted changes", func() {
		var (
			mu     sync.Mutex
			failed []error
		)
		onError := func(e error) {
			mu.Lock()
			failed = append(failed, e)
			mu.Unlock()
		}

		p, e := NewPersisted(ctx, newRegistry(catalog...), brokenPersister{pp}, logger, onError)
		Expect(e).To(Succeed())

		Expect(p.Grant(types.Admin, "roles.edit")).To(Succeed())
		Expect(p.Flush(ctx)).To(Succeed())

		Expect(p.HasPermission(types.Admin, "roles.edit")).To(BeTrue())
		mu.Lock()
		defer mu.Unlock()
		Expect(failed).To(HaveLen(1))
		Expect(failed[0]).To(MatchError(errBroken))
	})

	It("stops flushing once its context is done", func() {
		p, e := NewPersisted(ctx, newRegistry(catalog...), pp, logger, nil)
		Expect(e).To(Succeed())
		cancel()

		Eventually(func() error {
			_, e := p.Toggle(types.Doctor, "users.view")
			Expect(e).To(Succeed())
			fctx, fcancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer fcancel()
			return p.Flush(fctx)
		}).Should(MatchError(ErrJournalStopped))
	})
})
