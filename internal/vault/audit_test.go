package vault

import (
	"testing"
	"time"
)

func TestAuditExactness(t *testing.T) {
	svc := newTestService(t)

	// Five lifecycle/access operations on one credential.
	id := storeAPIKey(t, svc, "tracked", "production")              // create
	grantRead(t, svc, id, "reader", EntitySkill)                   // grant_access
	if _, err := svc.Credentials().Retrieve(id, "reader", EntitySkill, RetrieveOptions{}); err != nil {
		t.Fatalf("Retrieve: %v", err)
	} // retrieve success
	if _, err := svc.Credentials().Retrieve(id, "stranger", EntitySkill, RetrieveOptions{}); err == nil {
		t.Fatal("expected denial")
	} // retrieve failure
	if err := svc.Credentials().Rotate(id, APIKeyValue{Key: "new"}); err != nil {
		t.Fatalf("Rotate: %v", err)
	} // rotate

	if n := auditCount(t, svc, id, ""); n != 5 {
		t.Fatalf("audit rows = %d, want 5 (one per operation)", n)
	}
}

func TestAuditFailureRowsCarryErrorMessage(t *testing.T) {
	svc := newTestService(t)
	id := storeAPIKey(t, svc, "guarded", "production")

	for i := 0; i < 3; i++ {
		if _, err := svc.Credentials().Retrieve(id, "attacker", EntitySkill, RetrieveOptions{IPAddress: "10.0.0.9"}); err == nil {
			t.Fatal("expected denial")
		}
	}

	entries, err := svc.Audit().Query(AuditFilter{CredentialID: id, Action: ActionRetrieve})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("failed retrieve rows = %d, want 3", len(entries))
	}
	for _, e := range entries {
		if e.Success {
			t.Error("denied retrieve logged as success")
		}
		if e.ErrorMessage == "" {
			t.Error("failure row has empty error_message")
		}
		if e.IPAddress != "10.0.0.9" {
			t.Errorf("ip_address = %q", e.IPAddress)
		}
	}
}

func TestAuditQueryFilters(t *testing.T) {
	svc := newTestService(t)
	a := storeAPIKey(t, svc, "a", "production")
	b := storeAPIKey(t, svc, "b", "production")
	grantRead(t, svc, a, "reader", EntitySkill)
	grantRead(t, svc, b, "reader", EntityTool)

	if _, err := svc.Credentials().Retrieve(a, "reader", EntitySkill, RetrieveOptions{UserID: "alice"}); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if _, err := svc.Credentials().Retrieve(b, "reader", EntityTool, RetrieveOptions{UserID: "bob"}); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	t.Run("by credential", func(t *testing.T) {
		entries, err := svc.Audit().ByCredential(a, 0)
		if err != nil {
			t.Fatalf("ByCredential: %v", err)
		}
		for _, e := range entries {
			if e.CredentialID != a {
				t.Errorf("entry for %s in credential filter", e.CredentialID)
			}
		}
	})

	t.Run("by entity", func(t *testing.T) {
		entries, err := svc.Audit().ByEntity("reader", EntityTool, 0)
		if err != nil {
			t.Fatalf("ByEntity: %v", err)
		}
		if len(entries) == 0 {
			t.Fatal("no entries for tool entity")
		}
		for _, e := range entries {
			if e.EntityType != EntityTool {
				t.Errorf("entity type = %s", e.EntityType)
			}
		}
	})

	t.Run("by user", func(t *testing.T) {
		entries, err := svc.Audit().ByUser("alice", 0)
		if err != nil {
			t.Fatalf("ByUser: %v", err)
		}
		if len(entries) != 1 || entries[0].UserID != "alice" {
			t.Errorf("entries for alice = %+v", entries)
		}
	})

	t.Run("success only", func(t *testing.T) {
		if _, err := svc.Credentials().Retrieve(a, "nobody", EntitySkill, RetrieveOptions{}); err == nil {
			t.Fatal("expected denial")
		}
		entries, err := svc.Audit().Query(AuditFilter{CredentialID: a, SuccessOnly: true})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		for _, e := range entries {
			if !e.Success {
				t.Error("success_only returned a failure row")
			}
		}
	})

	t.Run("time window", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		entries, err := svc.Audit().Query(AuditFilter{Since: &future})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("entries from the future = %d", len(entries))
		}

		past := time.Now().Add(-time.Hour)
		entries, err = svc.Audit().Query(AuditFilter{Since: &past})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(entries) == 0 {
			t.Error("no entries in the last hour")
		}
	})
}

func TestAuditOrderingAndLimit(t *testing.T) {
	svc := newTestService(t)
	id := storeAPIKey(t, svc, "busy", "production")
	grantRead(t, svc, id, "reader", EntitySkill)
	for i := 0; i < 5; i++ {
		if _, err := svc.Credentials().Retrieve(id, "reader", EntitySkill, RetrieveOptions{}); err != nil {
			t.Fatalf("Retrieve: %v", err)
		}
	}

	entries, err := svc.Audit().Recent(3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Recent(3) = %d entries", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.After(entries[i-1].Timestamp) {
			t.Error("entries not in descending timestamp order")
		}
	}
}

func TestAuditSummary(t *testing.T) {
	svc := newTestService(t)
	id := storeAPIKey(t, svc, "summarized", "production")
	grantRead(t, svc, id, "reader", EntitySkill)
	if _, err := svc.Credentials().Retrieve(id, "reader", EntitySkill, RetrieveOptions{}); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if _, err := svc.Credentials().Retrieve(id, "nobody", EntitySkill, RetrieveOptions{}); err == nil {
		t.Fatal("expected denial")
	}

	summary, err := svc.Audit().GetSummary()
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if summary.Total != 4 { // create, grant, retrieve ok, retrieve fail
		t.Errorf("total = %d, want 4", summary.Total)
	}
	if summary.FailedAccess != 1 {
		t.Errorf("failed access = %d, want 1", summary.FailedAccess)
	}
	if summary.ByAction[string(ActionRetrieve)] != 2 {
		t.Errorf("retrieve count = %d, want 2", summary.ByAction[string(ActionRetrieve)])
	}
	if summary.ByCredential[id] != 4 {
		t.Errorf("per-credential count = %d, want 4", summary.ByCredential[id])
	}
	if summary.LastAccessAt == nil {
		t.Error("last access not set")
	}
}

func TestAuditRetention(t *testing.T) {
	svc := newTestService(t)
	id := storeAPIKey(t, svc, "aging", "production")

	// Age one of the rows far past the cutoff.
	old := formatTime(time.Now().AddDate(0, 0, -120))
	if _, err := svc.db.Exec(`UPDATE audit_log SET timestamp = ? WHERE credential_id = ?`, old, id); err != nil {
		t.Fatalf("age rows: %v", err)
	}
	grantRead(t, svc, id, "reader", EntitySkill)

	n, err := svc.Audit().CleanupOldEntries(90)
	if err != nil {
		t.Fatalf("CleanupOldEntries: %v", err)
	}
	if n != 1 {
		t.Errorf("cleaned = %d, want 1", n)
	}
	if remaining := auditCount(t, svc, id, ""); remaining != 1 {
		t.Errorf("remaining rows = %d, want 1 (the grant)", remaining)
	}
}
