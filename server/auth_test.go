package main

import (
	"strings"
	"testing"
	"time"
)

func newTestAuth(t *testing.T) *Auth {
	t.Helper()
	prev := bcryptCost
	bcryptCost = 4
	t.Cleanup(func() { bcryptCost = prev })
	return NewAuth(openTestDB(t))
}

func TestRegisterAndLogin(t *testing.T) {
	a := newTestAuth(t)
	p, err := a.Register("  ann  ", "secret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if p.Username != "ann" || p.TankName != "ann" || p.Color != DefaultTankColor {
		t.Errorf("expected ann's tank in the default colour, got %+v", p)
	}
	resumed, err := a.Resume(p.Token)
	if err != nil || resumed.PlayerID != p.PlayerID || resumed.Username != "ann" {
		t.Errorf("token should identify ann/%d, got %+v err=%v", p.PlayerID, resumed, err)
	}

	name, c, ok, _ := a.db.GetPreferences(p.PlayerID)
	if !ok || name != "ann" || c != DefaultTankColor {
		t.Errorf("registration should seed preferences, got %q %+v ok=%v", name, c, ok)
	}

	if _, err := a.Register("ann", "other"); err == nil {
		t.Error("duplicate username should be rejected")
	}
	if _, err := a.Login("ann", "wrong", "1.2.3.4"); err == nil {
		t.Error("wrong password should be rejected")
	}
	if l, err := a.Login(" ann ", "secret", "1.2.3.4"); err != nil || l.PlayerID != p.PlayerID || l.Token == "" {
		t.Errorf("login should succeed for %d, got %+v err=%v", p.PlayerID, l, err)
	}
}

func TestRegisterValidation(t *testing.T) {
	a := newTestAuth(t)
	if _, err := a.Register("a", "secret"); err == nil {
		t.Error("short username should be rejected")
	}
	if _, err := a.Register(strings.Repeat("x", maxNameLen+1), "secret"); err == nil {
		t.Error("long username should be rejected")
	}
	if _, err := a.Register("bob", "123"); err == nil {
		t.Error("short password should be rejected")
	}
}

func TestUsernameFollowsTankNameRules(t *testing.T) {
	a := newTestAuth(t)
	const name = "Жуковский-Танк" // 14 characters, 27 bytes
	if _, ok := ValidateName(name); !ok {
		t.Fatalf("expected %q to be a valid tank name", name)
	}
	p, err := a.Register(name, "secret")
	if err != nil {
		t.Fatalf("expected multi-byte username to register, got %v", err)
	}
	if p.TankName != name {
		t.Errorf("expected tank name %q, got %q", name, p.TankName)
	}
	if _, err := a.Login(name, "secret", "1.2.3.4"); err != nil {
		t.Errorf("expected login with multi-byte username, got %v", err)
	}
	if _, err := a.Register(strings.Repeat("Ж", maxNameLen+1), "secret"); err == nil {
		t.Error("expected a name one character over the bound to be rejected")
	}
	if _, err := a.Register("Ж", "secret"); err == nil {
		t.Error("expected a single-character name to be rejected")
	}
}

func TestResumeReadsCurrentTank(t *testing.T) {
	a := newTestAuth(t)
	p, _ := a.Register("ann", "secret")
	red := Color{R: 1}
	if err := a.db.SavePreferences(p.PlayerID, "Red Baron", red); err != nil {
		t.Fatal(err)
	}
	resumed, err := a.Resume(p.Token)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.TankName != "Red Baron" || resumed.Color != red {
		t.Errorf("expected the saved tank, got %q %+v", resumed.TankName, resumed.Color)
	}
	if resumed.ColoredName() != Decorate("Red Baron", red) {
		t.Errorf("expected decorated name, got %q", resumed.ColoredName())
	}

	if err := a.db.SavePreferences(p.PlayerID, strings.Repeat("x", maxNameLen+5), red); err != nil {
		t.Fatal(err)
	}
	if got, _ := a.Resume(p.Token); got.TankName != "ann" {
		t.Errorf("expected an out-of-bounds saved name to fall back to the username, got %q", got.TankName)
	}
}

func TestProfileCarriesTank(t *testing.T) {
	a := newTestAuth(t)
	p, _ := a.Register("ann", "secret")
	green := Color{G: 1}
	a.db.SavePreferences(p.PlayerID, "Greenie", green)

	prof, err := a.Profile(p.PlayerID, p.Username)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if prof.Username != "ann" || prof.TankName != "Greenie" || prof.Color != green {
		t.Errorf("expected ann flying Greenie, got %+v", prof)
	}
	if prof.ColoredName != "<color=#00FF00>Greenie</color>" {
		t.Errorf("expected decorated name, got %q", prof.ColoredName)
	}
	if _, err := a.Profile(9999, "ghost"); err == nil {
		t.Error("expected an unknown player to have no profile")
	}
}

func TestLoginRateLimit(t *testing.T) {
	a := newTestAuth(t)
	a.Register("ann", "secret")
	for i := 0; i < loginBudget; i++ {
		a.Login("ann", "wrong", "9.9.9.9")
	}
	if _, err := a.Login("ann", "secret", "9.9.9.9"); err == nil {
		t.Error("attempts past the limit should be refused")
	}
	if _, err := a.Login("ann", "secret", "8.8.8.8"); err != nil {
		t.Errorf("other addresses are unaffected, got %v", err)
	}
}

func TestLoginLimiterWindowResets(t *testing.T) {
	l := newLoginLimiter(time.Minute, 2)
	now := time.Unix(1000, 0)
	l.allow("a", now)
	l.allow("a", now)
	if l.allow("a", now) {
		t.Error("expected third attempt in the window to be refused")
	}
	if !l.allow("a", now.Add(2*time.Minute)) {
		t.Error("expected a fresh window to allow again")
	}
}

func TestSecretPersists(t *testing.T) {
	db := openTestDB(t)
	first := NewAuth(db)
	second := NewAuth(db)
	if string(first.secret) != string(second.secret) {
		t.Error("secret should be reused from the database")
	}
	if _, err := second.Resume("garbage"); err == nil {
		t.Error("garbage token should not validate")
	}
}
