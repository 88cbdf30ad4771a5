package domain

import "testing"

func TestSubject_CanDebit(t *testing.T) {
	owned := &Account{ID: "acc-1", OwnerID: "u-1", Type: AccountTypeChecking}
	funding := &Account{ID: "fund", OwnerID: "treasury", Type: AccountTypeFunding}
	unowned := &Account{ID: "acc-2", Type: AccountTypeChecking}

	tests := []struct {
		name    string
		subject Subject
		account *Account
		want    bool
	}{
		{"owner debits own account", Subject{ID: "u-1", Role: RoleOperator}, owned, true},
		{"operator cannot debit another owner", Subject{ID: "u-2", Role: RoleOperator}, owned, false},
		{"operator debits funding", Subject{ID: "u-2", Role: RoleOperator}, funding, true},
		{"reviewer cannot debit funding", Subject{ID: "u-2", Role: RoleReviewer}, funding, false},
		{"admin debits anything", Subject{ID: "root", Role: RoleAdmin}, owned, true},
		{"empty subject never matches empty owner", Subject{Role: RoleOperator}, unowned, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.subject.CanDebit(tt.account); got != tt.want {
				t.Fatalf("CanDebit = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubject_SeesAllAccounts(t *testing.T) {
	if !(&Subject{Role: RoleAdmin}).SeesAllAccounts() {
		t.Fatal("admin should see all accounts")
	}
	for _, r := range []Role{RoleOperator, RoleReviewer, RoleViewer} {
		if (&Subject{Role: r}).SeesAllAccounts() {
			t.Fatalf("%s should only see owned accounts", r)
		}
	}
}

func TestErrForbiddenIsAuthKind(t *testing.T) {
	if KindOf(ErrForbidden) != KindAuth {
		t.Fatalf("expected auth kind, got %s", KindOf(ErrForbidden))
	}
}
