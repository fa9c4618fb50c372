package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenTTL       = 7 * 24 * time.Hour
	minPasswordLen = 4
	minUsernameLen = 2
	loginWindow    = time.Minute
	loginBudget    = 10
	secretSetting  = "jwt_secret"
)

// bcryptCost is lowered by tests
var bcryptCost = 12

var (
	errBadCredentials = errors.New("invalid username or password")
	errUsernameTaken  = errors.New("username already taken")
	errTooManyLogins  = errors.New("too many login attempts, try again later")
	errAuthInternal   = errors.New("internal error")
)

// Pilot is an account as the arena sees it: the login plus the tank
// identity its joins are seeded from.
type Pilot struct {
	PlayerID int64
	Username string
	TankName string
	Color    Color
	Token    string
}

// ColoredName is the decorated tank name used on name tags and the ticker
func (p Pilot) ColoredName() string {
	return Decorate(p.TankName, p.Color)
}

type pilotClaims struct {
	PlayerID int64  `json:"pid"`
	Username string `json:"usr"`
	jwt.RegisteredClaims
}

// Auth owns accounts, session tokens and the per-address login budget
type Auth struct {
	db     *DB
	secret []byte
	logins *loginLimiter
}

func NewAuth(db *DB) *Auth {
	return &Auth{
		db:     db,
		secret: signingSecret(db),
		logins: newLoginLimiter(loginWindow, loginBudget),
	}
}

// signingSecret reuses the persisted HMAC key so tokens survive restarts
func signingSecret(db *DB) []byte {
	if db != nil {
		if b, err := hex.DecodeString(db.GetSetting(secretSetting)); err == nil && len(b) == 32 {
			return b
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("jwt secret: " + err.Error())
	}
	if db != nil {
		if err := db.SetSetting(secretSetting, hex.EncodeToString(secret)); err != nil {
			log.Printf("warn: jwt secret not persisted: %v", err)
		}
	}
	return secret
}

// checkUsername applies the tank name rules plus a lower bound, both
// counted in characters, since a new account's tank starts with it.
func checkUsername(raw string) (string, error) {
	name, ok := ValidateName(raw)
	if !ok || utf8.RuneCountInString(name) < minUsernameLen {
		return "", fmt.Errorf("username must be %d-%d characters", minUsernameLen, maxNameLen)
	}
	return name, nil
}

// Register creates an account whose tank is named after it and painted
// the default colour.
func (a *Auth) Register(username, password string) (Pilot, error) {
	name, err := checkUsername(username)
	if err != nil {
		return Pilot{}, err
	}
	if len(password) < minPasswordLen {
		return Pilot{}, fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	taken, err := a.db.UsernameExists(name)
	if err != nil {
		return Pilot{}, errAuthInternal
	}
	if taken {
		return Pilot{}, errUsernameTaken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return Pilot{}, errAuthInternal
	}
	id, err := a.db.CreatePlayer(name, string(hash))
	if err != nil {
		return Pilot{}, errAuthInternal
	}

	p := Pilot{PlayerID: id, Username: name, TankName: name, Color: DefaultTankColor}
	if err := a.db.SavePreferences(id, p.TankName, p.Color); err != nil {
		log.Printf("warn: preferences for %s not seeded: %v", name, err)
	}
	if err := a.issue(&p); err != nil {
		return Pilot{}, err
	}
	return p, nil
}

// Login checks a password and returns the pilot with their saved tank
func (a *Auth) Login(username, password, ip string) (Pilot, error) {
	if !a.logins.allow(ip, time.Now()) {
		return Pilot{}, errTooManyLogins
	}
	name, err := checkUsername(username)
	if err != nil {
		return Pilot{}, errBadCredentials
	}
	row, err := a.db.GetPlayerByUsername(name)
	if err != nil {
		return Pilot{}, errAuthInternal
	}
	if row == nil || row.PassHash == "" {
		return Pilot{}, errBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(row.PassHash), []byte(password)) != nil {
		return Pilot{}, errBadCredentials
	}

	p := a.pilot(row.ID, row.Username)
	if err := a.issue(&p); err != nil {
		return Pilot{}, err
	}
	return p, nil
}

// Resume turns a previously issued token back into a pilot. The tank
// identity is read fresh so a rename since the token was issued shows up.
func (a *Auth) Resume(token string) (Pilot, error) {
	var claims pilotClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Pilot{}, err
	}
	if claims.PlayerID <= 0 {
		return Pilot{}, errors.New("token has no player")
	}
	name, err := checkUsername(claims.Username)
	if err != nil {
		return Pilot{}, err
	}

	p := a.pilot(claims.PlayerID, name)
	p.Token = token
	return p, nil
}

// Profile is the account summary with the tank identity and career stats
func (a *Auth) Profile(playerID int64, username string) (ProfileDataMsg, error) {
	stats, err := a.db.GetStats(playerID)
	if err != nil {
		return ProfileDataMsg{}, err
	}
	if stats == nil {
		return ProfileDataMsg{}, fmt.Errorf("no stats for player %d", playerID)
	}
	p := a.pilot(playerID, username)
	return ProfileDataMsg{
		Username:    p.Username,
		TankName:    p.TankName,
		ColoredName: p.ColoredName(),
		Color:       p.Color,
		RoundsWon:   stats.RoundsWon,
		GamesWon:    stats.GamesWon,
		GamesPlayed: stats.GamesPlayed,
		Kills:       stats.Kills,
		Deaths:      stats.Deaths,
	}, nil
}

// pilot loads the saved tank identity. Anything that no longer passes the
// name rules falls back to the username.
func (a *Auth) pilot(id int64, username string) Pilot {
	p := Pilot{PlayerID: id, Username: username, TankName: username, Color: DefaultTankColor}
	name, c, ok, err := a.db.GetPreferences(id)
	if err != nil {
		log.Printf("warn: preferences for %d: %v", id, err)
		return p
	}
	if !ok {
		return p
	}
	if n, valid := ValidateName(name); valid {
		p.TankName = n
	}
	if c.Valid() {
		p.Color = c
	}
	return p
}

func (a *Auth) issue(p *Pilot) error {
	now := time.Now()
	claims := pilotClaims{
		PlayerID: p.PlayerID,
		Username: p.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return errAuthInternal
	}
	p.Token = token
	return nil
}

type loginBucket struct {
	count   int
	resetAt time.Time
}

// loginLimiter is a fixed-window attempt counter per remote address
type loginLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	budget  int
	buckets map[string]*loginBucket
}

func newLoginLimiter(window time.Duration, budget int) *loginLimiter {
	return &loginLimiter{window: window, budget: budget, buckets: make(map[string]*loginBucket)}
}

func (l *loginLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok || now.After(b.resetAt) {
		l.buckets[ip] = &loginBucket{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	b.count++
	return b.count <= l.budget
}
