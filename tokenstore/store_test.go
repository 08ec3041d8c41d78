package tokenstore

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"stopshop/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("any-key"))
	require.NoError(t, err)
	return tok
}

func tokenExpiringAt(t *testing.T, at time.Time) string {
	return signed(t, jwt.MapClaims{"userId": "u1", "exp": at.Unix()})
}

func TestIsValid(t *testing.T) {
	s := New(nil, WithClock(func() time.Time { return fixedNow }))

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"future exp", tokenExpiringAt(t, fixedNow.Add(time.Hour)), true},
		{"past exp", tokenExpiringAt(t, fixedNow.Add(-time.Second)), false},
		{"exp equal to now", tokenExpiringAt(t, fixedNow), false},
		{"missing exp", signed(t, jwt.MapClaims{"userId": "u1"}), false},
		{"exp wrong type", signed(t, jwt.MapClaims{"exp": "tomorrow"}), false},
		{"two segments", "abc.def", false},
		{"garbage payload", "abc.!!!.def", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.IsValid(tt.token))
		})
	}
}

func TestGetToken_ChecksKeysAndStoragesInOrder(t *testing.T) {
	ctx := context.Background()
	local := NewMemoryStorage()
	session := NewMemoryStorage()
	s := New([]Storage{local, session})

	_, ok := s.GetToken(ctx)
	assert.False(t, ok)

	require.NoError(t, session.Set(ctx, "token", "from-session"))
	tok, ok := s.GetToken(ctx)
	require.True(t, ok)
	assert.Equal(t, "from-session", tok)

	require.NoError(t, local.Set(ctx, "accessToken", "legacy-local"))
	tok, _ = s.GetToken(ctx)
	assert.Equal(t, "legacy-local", tok)

	require.NoError(t, local.Set(ctx, "authToken", "older-local"))
	tok, _ = s.GetToken(ctx)
	assert.Equal(t, "older-local", tok)
}

type brokenStorage struct{}

func (brokenStorage) Get(context.Context, string) (string, error) { return "", errors.New("locked") }
func (brokenStorage) Set(context.Context, string, string) error    { return errors.New("locked") }
func (brokenStorage) Remove(context.Context, string) error         { return errors.New("locked") }

func TestGetToken_SkipsFailingStorage(t *testing.T) {
	ctx := context.Background()
	session := NewMemoryStorage()
	require.NoError(t, session.Set(ctx, "jwtToken", "tok"))
	s := New([]Storage{brokenStorage{}, session})

	tok, ok := s.GetToken(ctx)
	require.True(t, ok)
	assert.Equal(t, "tok", tok)
}

func TestValidToken(t *testing.T) {
	ctx := context.Background()
	local := NewMemoryStorage()
	s := New([]Storage{local}, WithClock(func() time.Time { return fixedNow }))

	_, err := s.ValidToken(ctx)
	assert.ErrorIs(t, err, ErrNoToken)

	require.NoError(t, local.Set(ctx, "token", tokenExpiringAt(t, fixedNow.Add(-time.Minute))))
	_, err = s.ValidToken(ctx)
	assert.ErrorIs(t, err, ErrTokenExpired)

	good := tokenExpiringAt(t, fixedNow.Add(time.Minute))
	require.NoError(t, local.Set(ctx, "token", good))
	tok, err := s.ValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, good, tok)
}

func TestSaveSessionProfileAndClear(t *testing.T) {
	ctx := context.Background()
	local := NewMemoryStorage()
	session := NewMemoryStorage()
	s := New([]Storage{local, session})

	p := models.Profile{UserID: "u1", Name: "alice", Email: "alice@example.com", Avatar: "a.png", Role: "user"}
	require.NoError(t, s.SaveSession(ctx, "tok", p))
	require.NoError(t, session.Set(ctx, "accessToken", "stale"))

	got, ok := s.Profile(ctx)
	require.True(t, ok)
	assert.Equal(t, p, got)
	name, _ := local.Get(ctx, "userName")
	assert.Equal(t, "alice", name)

	require.NoError(t, s.Clear(ctx))
	_, ok = s.GetToken(ctx)
	assert.False(t, ok)
	_, ok = s.Profile(ctx)
	assert.False(t, ok)
	for _, key := range append(TokenKeys, UserKeys...) {
		v, _ := session.Get(ctx, key)
		assert.Empty(t, v, key)
	}
}

func TestProfile_FallsBackToFlatFields(t *testing.T) {
	ctx := context.Background()
	local := NewMemoryStorage()
	require.NoError(t, local.Set(ctx, "userName", "bob"))
	require.NoError(t, local.Set(ctx, "userEmail", "bob@example.com"))

	p, ok := New([]Storage{local}).Profile(ctx)
	require.True(t, ok)
	assert.Equal(t, "bob", p.Name)
	assert.Equal(t, "bob@example.com", p.Email)
}

func TestClear_ReportsErrors(t *testing.T) {
	s := New([]Storage{NewMemoryStorage(), brokenStorage{}})
	assert.Error(t, s.Clear(context.Background()))
}

func TestSQLiteStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	st, err := OpenSQLite(path)
	require.NoError(t, err)

	v, err := st.Get(ctx, "token")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, st.Set(ctx, "token", "one"))
	require.NoError(t, st.Set(ctx, "token", "two"))
	require.NoError(t, st.Close())

	// A new process sees the persisted session.
	st, err = OpenSQLite(path)
	require.NoError(t, err)
	defer st.Close()

	v, err = st.Get(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, "two", v)

	require.NoError(t, st.Remove(ctx, "token"))
	v, _ = st.Get(ctx, "token")
	assert.Empty(t, v)
}

func TestSQLiteStorage_PropagatesDriverErrors(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := NewSQLiteStorage(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM kv WHERE key = ?`)).
		WithArgs("token").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO kv`)).
		WithArgs("token", "v").
		WillReturnError(errors.New("database is locked"))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM kv WHERE key = ?`)).
		WithArgs("token").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err = st.Get(ctx, "token")
	assert.ErrorContains(t, err, "disk I/O error")

	err = st.Set(ctx, "token", "v")
	assert.ErrorContains(t, err, "database is locked")

	assert.NoError(t, st.Remove(ctx, "token"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStorage_MissingRowIsEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM kv WHERE key = ?`)).
		WithArgs("authToken").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	v, err := NewSQLiteStorage(db).Get(context.Background(), "authToken")
	require.NoError(t, err)
	assert.Empty(t, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}
