package vault

import (
	"errors"
	"testing"
	"time"
)

func TestAccessLevelHierarchy(t *testing.T) {
	svc := newTestService(t)
	levels := []AccessLevel{LevelRead, LevelWrite, LevelAdmin}

	for _, granted := range levels {
		id := storeAPIKey(t, svc, "cred_"+string(granted), "production")
		if _, err := svc.Access().GrantAccess(id, "worker", EntitySkill, GrantOptions{AccessLevel: granted}); err != nil {
			t.Fatalf("GrantAccess(%s): %v", granted, err)
		}

		for _, required := range levels {
			got, err := svc.Access().HasAccess(id, "worker", EntitySkill, required)
			if err != nil {
				t.Fatalf("HasAccess: %v", err)
			}
			want := granted.Satisfies(required)
			if got != want {
				t.Errorf("granted %s, required %s: HasAccess = %v, want %v", granted, required, got, want)
			}
		}
	}
}

func TestGrantDefaultsToRead(t *testing.T) {
	svc := newTestService(t)
	id := storeAPIKey(t, svc, "c", "production")

	if _, err := svc.Access().GrantAccess(id, "s", EntitySkill, GrantOptions{}); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}

	policies, err := svc.Access().GetAccessPolicies(id)
	if err != nil {
		t.Fatalf("GetAccessPolicies: %v", err)
	}
	if len(policies) != 1 || policies[0].AccessLevel != LevelRead {
		t.Fatalf("policies = %+v, want one read policy", policies)
	}
	if policies[0].ExpiresAt != nil {
		t.Error("default grant has an expiry")
	}
}

func TestGrantUnknownCredential(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Access().GrantAccess("cred_0_missing", "s", EntitySkill, GrantOptions{})
	var notFound *CredentialNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("GrantAccess error = %v, want CredentialNotFoundError", err)
	}
}

func TestRegrantIsUpsert(t *testing.T) {
	svc := newTestService(t)
	id := storeAPIKey(t, svc, "c", "production")

	first, err := svc.Access().GrantAccess(id, "s", EntitySkill, GrantOptions{AccessLevel: LevelRead})
	if err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}
	second, err := svc.Access().GrantAccess(id, "s", EntitySkill, GrantOptions{AccessLevel: LevelAdmin})
	if err != nil {
		t.Fatalf("re-GrantAccess: %v", err)
	}
	if first == second {
		t.Error("re-grant did not mint a fresh policy id")
	}

	policies, err := svc.Access().GetAccessPolicies(id)
	if err != nil {
		t.Fatalf("GetAccessPolicies: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("policies after re-grant = %d, want 1", len(policies))
	}
	if policies[0].AccessLevel != LevelAdmin || policies[0].ID != second {
		t.Errorf("policy = %+v, want admin level with id %s", policies[0], second)
	}
}

func TestExpiredPolicyDeniesRegardlessOfLevel(t *testing.T) {
	svc := newTestService(t)
	id := storeAPIKey(t, svc, "c", "production")

	past := time.Now().Add(-time.Second)
	if _, err := svc.Access().GrantAccess(id, "skill_x", EntitySkill, GrantOptions{
		AccessLevel: LevelAdmin,
		ExpiresAt:   &past,
	}); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}

	ok, err := svc.Access().HasAccess(id, "skill_x", EntitySkill, LevelRead)
	if err != nil {
		t.Fatalf("HasAccess: %v", err)
	}
	if ok {
		t.Error("expired admin policy still grants read")
	}

	err = svc.Access().AssertAccess(id, "skill_x", EntitySkill, LevelRead)
	var denied *AccessDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("AssertAccess error = %v, want AccessDeniedError", err)
	}
	if denied.Reason != DenialPolicyExpired {
		t.Errorf("denial reason = %q, want %q", denied.Reason, DenialPolicyExpired)
	}
}

func TestHasAccessWritesNoAudit(t *testing.T) {
	svc := newTestService(t)
	id := storeAPIKey(t, svc, "c", "production")
	grantRead(t, svc, id, "s", EntitySkill)

	before := auditCount(t, svc, id, "")
	for i := 0; i < 5; i++ {
		if _, err := svc.Access().HasAccess(id, "s", EntitySkill, LevelRead); err != nil {
			t.Fatalf("HasAccess: %v", err)
		}
		if _, err := svc.Access().HasAccess(id, "nobody", EntitySkill, LevelAdmin); err != nil {
			t.Fatalf("HasAccess: %v", err)
		}
	}
	if after := auditCount(t, svc, id, ""); after != before {
		t.Errorf("permission probing wrote %d audit rows", after-before)
	}
}

func TestRevokeAccess(t *testing.T) {
	svc := newTestService(t)
	id := storeAPIKey(t, svc, "c", "production")
	grantRead(t, svc, id, "s", EntitySkill)

	removed, err := svc.Access().RevokeAccess(id, "s", EntitySkill)
	if err != nil {
		t.Fatalf("RevokeAccess: %v", err)
	}
	if !removed {
		t.Error("RevokeAccess removed nothing")
	}

	removed, err = svc.Access().RevokeAccess(id, "s", EntitySkill)
	if err != nil {
		t.Fatalf("RevokeAccess: %v", err)
	}
	if removed {
		t.Error("second RevokeAccess reported a removal")
	}

	ok, _ := svc.Access().HasAccess(id, "s", EntitySkill, LevelRead)
	if ok {
		t.Error("access survives policy revocation")
	}
}

func TestRevokeAllAccess(t *testing.T) {
	svc := newTestService(t)
	id := storeAPIKey(t, svc, "c", "production")
	grantRead(t, svc, id, "a", EntitySkill)
	grantRead(t, svc, id, "b", EntityTool)

	n, err := svc.Access().RevokeAllAccess(id)
	if err != nil {
		t.Fatalf("RevokeAllAccess: %v", err)
	}
	if n != 2 {
		t.Errorf("RevokeAllAccess = %d, want 2", n)
	}
}

func TestGetAccessibleCredentials(t *testing.T) {
	svc := newTestService(t)
	active := storeAPIKey(t, svc, "active_cred", "production")
	revoked := storeAPIKey(t, svc, "revoked_cred", "production")
	expired := storeAPIKey(t, svc, "expired_grant", "production")

	grantRead(t, svc, active, "worker", EntitySkill)
	grantRead(t, svc, revoked, "worker", EntitySkill)
	past := time.Now().Add(-time.Hour)
	if _, err := svc.Access().GrantAccess(expired, "worker", EntitySkill, GrantOptions{ExpiresAt: &past}); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}
	if err := svc.Credentials().Revoke(revoked, ""); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	creds, err := svc.Access().GetAccessibleCredentials("worker", EntitySkill)
	if err != nil {
		t.Fatalf("GetAccessibleCredentials: %v", err)
	}
	if len(creds) != 1 || creds[0].ID != active {
		t.Errorf("accessible = %+v, want only %s", creds, active)
	}

	// Entity type is part of the key.
	creds, err = svc.Access().GetAccessibleCredentials("worker", EntityTool)
	if err != nil {
		t.Fatalf("GetAccessibleCredentials: %v", err)
	}
	if len(creds) != 0 {
		t.Errorf("tool sees %d credentials, want 0", len(creds))
	}
}

func TestUpdateAccessLevel(t *testing.T) {
	svc := newTestService(t)
	id := storeAPIKey(t, svc, "c", "production")
	grantRead(t, svc, id, "s", EntitySkill)

	if err := svc.Access().UpdateAccessLevel(id, "s", EntitySkill, LevelWrite); err != nil {
		t.Fatalf("UpdateAccessLevel: %v", err)
	}
	ok, _ := svc.Access().HasAccess(id, "s", EntitySkill, LevelWrite)
	if !ok {
		t.Error("write access missing after level update")
	}

	if err := svc.Access().UpdateAccessLevel(id, "ghost", EntitySkill, LevelWrite); err == nil {
		t.Error("UpdateAccessLevel on a missing policy should fail")
	}
}

func TestCleanupExpiredPolicies(t *testing.T) {
	svc := newTestService(t)
	id := storeAPIKey(t, svc, "c", "production")

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	if _, err := svc.Access().GrantAccess(id, "old", EntitySkill, GrantOptions{ExpiresAt: &past}); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}
	if _, err := svc.Access().GrantAccess(id, "new", EntitySkill, GrantOptions{ExpiresAt: &future}); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}
	grantRead(t, svc, id, "forever", EntitySkill)

	n, err := svc.Access().CleanupExpiredPolicies()
	if err != nil {
		t.Fatalf("CleanupExpiredPolicies: %v", err)
	}
	if n != 1 {
		t.Errorf("cleaned = %d, want 1", n)
	}

	policies, _ := svc.Access().GetAccessPolicies(id)
	if len(policies) != 2 {
		t.Errorf("remaining policies = %d, want 2", len(policies))
	}
}

func TestGetPoliciesExpiringSoon(t *testing.T) {
	svc := newTestService(t)
	id := storeAPIKey(t, svc, "c", "production")

	soon := time.Now().Add(24 * time.Hour)
	later := time.Now().Add(30 * 24 * time.Hour)
	if _, err := svc.Access().GrantAccess(id, "soon", EntitySkill, GrantOptions{ExpiresAt: &soon}); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}
	if _, err := svc.Access().GrantAccess(id, "later", EntitySkill, GrantOptions{ExpiresAt: &later}); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}
	grantRead(t, svc, id, "forever", EntitySkill)

	policies, err := svc.Access().GetPoliciesExpiringSoon(7)
	if err != nil {
		t.Fatalf("GetPoliciesExpiringSoon: %v", err)
	}
	if len(policies) != 1 || policies[0].EntityID != "soon" {
		t.Errorf("expiring soon = %+v, want only the 24h policy", policies)
	}
}
