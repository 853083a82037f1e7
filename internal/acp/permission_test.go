package acp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermissionBroker_BypassModeAlwaysAllows(t *testing.T) {
	b := NewPermissionBroker()
	d := b.Classify(PermissionBypassPermissions, ToolOperation{OpType: OpDelete}, "/work")
	assert.True(t, d.Allow)
	assert.False(t, d.RequiresConfirmation)
}

func TestPermissionBroker_AcceptEditsModeAllowsReadAndSearchOnly(t *testing.T) {
	b := NewPermissionBroker()

	d := b.Classify(PermissionAcceptEdits, ToolOperation{OpType: OpRead}, "/work")
	assert.True(t, d.Allow)

	d = b.Classify(PermissionAcceptEdits, ToolOperation{OpType: OpSearch}, "/work")
	assert.True(t, d.Allow)

	d = b.Classify(PermissionAcceptEdits, ToolOperation{OpType: OpEdit, AffectedPaths: []string{"/work/a.go"}}, "/work")
	assert.True(t, d.Allow)
	assert.False(t, d.RequiresConfirmation)
}

func TestPermissionBroker_DeleteAlwaysRequiresConfirmationWithoutAllowAlways(t *testing.T) {
	b := NewPermissionBroker()
	d := b.Classify(PermissionDefault, ToolOperation{OpType: OpDelete}, "/work")

	assert.True(t, d.RequiresConfirmation)
	for _, opt := range d.Options {
		assert.NotEqual(t, "allow_always", opt.Kind)
	}
	ids := make([]string, 0, len(d.Options))
	for _, opt := range d.Options {
		ids = append(ids, opt.OptionID)
	}
	assert.ElementsMatch(t, []string{"allow_once", "reject_once", "reject_always"}, ids)
}

func TestPermissionBroker_NonDeleteOffersAllowAlways(t *testing.T) {
	b := NewPermissionBroker()
	d := b.Classify(PermissionDefault, ToolOperation{OpType: OpExecute, Command: "rm -rf /tmp/x"}, "/work")
	assert.True(t, d.RequiresConfirmation)
	var sawAllowAlways bool
	for _, opt := range d.Options {
		if opt.Kind == "allow_always" {
			sawAllowAlways = true
		}
	}
	assert.True(t, sawAllowAlways)
}

func TestPermissionBroker_DangerousCommandRequiresConfirmation(t *testing.T) {
	b := NewPermissionBroker()
	d := b.Classify(PermissionDefault, ToolOperation{OpType: OpExecute, Command: "sudo reboot"}, "/work")
	assert.True(t, d.RequiresConfirmation)
}

func TestPermissionBroker_SafeCommandDoesNotRequireConfirmation(t *testing.T) {
	b := NewPermissionBroker()
	d := b.Classify(PermissionDefault, ToolOperation{OpType: OpExecute, Command: "ls -la"}, "/work")
	assert.True(t, d.Allow)
	assert.False(t, d.RequiresConfirmation)
}

func TestPermissionBroker_PathEscapingSessionCWDRequiresConfirmation(t *testing.T) {
	b := NewPermissionBroker()
	d := b.Classify(PermissionDefault, ToolOperation{OpType: OpEdit, AffectedPaths: []string{"/etc/passwd"}}, "/work/project")
	assert.True(t, d.RequiresConfirmation)
}

func TestPermissionBroker_PathWithinSessionCWDDoesNotRequireConfirmation(t *testing.T) {
	b := NewPermissionBroker()
	d := b.Classify(PermissionDefault, ToolOperation{OpType: OpEdit, AffectedPaths: []string{"/work/project/sub/file.go"}}, "/work/project")
	assert.True(t, d.Allow)
	assert.False(t, d.RequiresConfirmation)
}

func TestResolveOutcome_SelectedAllowOnceOrAllowAlwaysAllows(t *testing.T) {
	assert.True(t, ResolveOutcome(PermissionOutcome{Outcome: "selected", OptionID: "allow_once"}))
	assert.True(t, ResolveOutcome(PermissionOutcome{Outcome: "selected", OptionID: "allow_always"}))
}

func TestResolveOutcome_SelectedRejectDenies(t *testing.T) {
	assert.False(t, ResolveOutcome(PermissionOutcome{Outcome: "selected", OptionID: "reject_once"}))
	assert.False(t, ResolveOutcome(PermissionOutcome{Outcome: "selected", OptionID: "reject_always"}))
}

func TestResolveOutcome_CancelledDeniesWithoutError(t *testing.T) {
	assert.False(t, ResolveOutcome(PermissionOutcome{Outcome: "cancelled"}))
}
