package goMFA

import "testing"

func TestCriticalAuditEvents(t *testing.T) {
	cases := []struct {
		event AuditEvent
		want  bool
	}{
		{AuditEvent{EventType: auditEventLoginSuccess, Success: true}, false},
		{AuditEvent{EventType: auditEventEmailCodeSent, Success: true}, false},
		{AuditEvent{EventType: auditEventLoginFailure}, true},
		{AuditEvent{EventType: auditEventMFAFailure}, true},
		{AuditEvent{EventType: auditEventLockoutTriggered, Success: true}, true},
		{AuditEvent{EventType: auditEventMFADisabled, Success: true}, true},
		{AuditEvent{EventType: auditEventRecoveryGenerated, Success: true}, true},
		{AuditEvent{EventType: auditEventLogoutAll, Success: true}, true},
	}
	for _, tc := range cases {
		if got := criticalAuditEvent(tc.event); got != tc.want {
			t.Fatalf("%s success=%v: got %v want %v", tc.event.EventType, tc.event.Success, got, tc.want)
		}
	}
}

func TestNilEngineAuditDroppedByType(t *testing.T) {
	var e *Engine
	if got := e.AuditDroppedByType(); len(got) != 0 {
		t.Fatalf("expected no drops, got %v", got)
	}
}
