package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/persondir/internal/directory"
	"github.com/isometry/persondir/internal/person"
)

const (
	peopleBase = "ou=people,dc=example,dc=org"
	rolesBase  = "ou=roles,dc=example,dc=org"
	activeDN   = "cn=active," + rolesBase
)

func newTestRepo(t *testing.T) (*Repository, *directory.FakeClient) {
	t.Helper()
	cfg := &directory.Config{
		PeopleBaseDN:     peopleBase,
		PermissionBaseDN: rolesBase,
	}
	require.NoError(t, cfg.Normalize())

	fake := directory.NewFakeClient()
	fake.Seed(activeDN, map[string][]string{
		"objectClass": {"groupOfNames"},
		"cn":          {"active"},
	})
	return New(fake, cfg, nil), fake
}

func newTestPerson(t *testing.T, f person.Fields) *person.Person {
	t.Helper()
	p, err := person.New(f)
	require.NoError(t, err)
	return p
}

func TestAddAndLookup(t *testing.T) {
	ctx := context.Background()
	repo, fake := newTestRepo(t)

	p := newTestPerson(t, person.Fields{
		FirstName: "John",
		Surname:   "Doe",
		Username:  "jdoe",
		Email:     "jdoe@example.org",
		Password:  "secret",
	})
	require.NoError(t, repo.AddPerson(ctx, p))

	entry := fake.Entry("uid=jdoe," + peopleBase)
	require.NotNil(t, entry)
	assert.Equal(t, "John", entry.GetAttributeValue("givenName"))
	assert.Equal(t, "Doe", entry.GetAttributeValue("sn"))
	assert.Equal(t, "John Doe", entry.GetAttributeValue("cn"))
	assert.Equal(t, "jdoe@example.org", entry.GetAttributeValue("mail"))
	assert.True(t, strings.HasPrefix(entry.GetAttributeValue("userPassword"), "{CRYPT}$2"),
		"stored password must carry the crypt marker and hash")

	got, err := repo.PersonByUsername(ctx, "jdoe")
	require.NoError(t, err)
	assert.True(t, p.Equal(got))
	assert.Equal(t, p.PasswordHash(), got.PasswordHash(),
		"password hash must round-trip byte for byte")
	assert.True(t, got.CheckPassword("secret"))

	byEmail, err := repo.PersonByEmail(ctx, "jdoe@example.org")
	require.NoError(t, err)
	assert.True(t, got.Equal(byEmail))
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	require.NoError(t, repo.AddPerson(ctx, newTestPerson(t, person.Fields{
		FirstName: "John", Surname: "Doe", Username: "jdoe", Email: "jdoe@example.org",
	})))

	tests := []struct {
		name  string
		check func() (bool, error)
		want  bool
	}{
		{"existing username", func() (bool, error) { return repo.UsernameExists(ctx, "jdoe") }, true},
		{"absent username", func() (bool, error) { return repo.UsernameExists(ctx, "other") }, false},
		{"empty username", func() (bool, error) { return repo.UsernameExists(ctx, "") }, false},
		{"existing email", func() (bool, error) { return repo.EmailExists(ctx, "jdoe@example.org") }, true},
		{"absent email", func() (bool, error) { return repo.EmailExists(ctx, "other@example.org") }, false},
		{"empty email", func() (bool, error) { return repo.EmailExists(ctx, "") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.check()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddPersonConflicts(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	require.NoError(t, repo.AddPerson(ctx, newTestPerson(t, person.Fields{
		FirstName: "John", Surname: "Doe", Username: "jdoe", Email: "jdoe@example.org",
	})))

	t.Run("username taken", func(t *testing.T) {
		err := repo.AddPerson(ctx, newTestPerson(t, person.Fields{
			FirstName: "Jane", Surname: "Smith", Username: "jdoe", Email: "jsmith@example.org",
		}))
		require.Error(t, err)
		assert.True(t, IsAlreadyExists(err))
		var exists *AlreadyExistsError
		require.ErrorAs(t, err, &exists)
		assert.Equal(t, "username", exists.Attribute)

		// No partial write: the original entry stands alone and unchanged.
		got, err := repo.PersonByUsername(ctx, "jdoe")
		require.NoError(t, err)
		assert.Equal(t, "John", got.FirstName)
	})

	t.Run("email taken", func(t *testing.T) {
		err := repo.AddPerson(ctx, newTestPerson(t, person.Fields{
			FirstName: "Jane", Surname: "Smith", Username: "jsmith", Email: "jdoe@example.org",
		}))
		require.Error(t, err)
		var exists *AlreadyExistsError
		require.ErrorAs(t, err, &exists)
		assert.Equal(t, "email", exists.Attribute)
	})

	t.Run("no email uniqueness check without email", func(t *testing.T) {
		require.NoError(t, repo.AddPerson(ctx, newTestPerson(t, person.Fields{
			FirstName: "Jane", Surname: "Smith", Username: "jsmith",
		})))
	})
}

// An entry can occupy the target DN without carrying the uid attribute the
// uniqueness checks search for. The conflict then only shows up when the
// directory rejects the add, and must still map to AlreadyExistsError.
func TestAddPersonRemoteConflict(t *testing.T) {
	ctx := context.Background()
	repo, fake := newTestRepo(t)

	fake.Seed("uid=jdoe,"+peopleBase, map[string][]string{
		"objectClass": {"applicationProcess"},
	})

	ok, err := repo.UsernameExists(ctx, "jdoe")
	require.NoError(t, err)
	require.False(t, ok, "squatting entry must be invisible to the username check")

	err = repo.AddPerson(ctx, newTestPerson(t, person.Fields{
		FirstName: "John", Surname: "Doe", Username: "jdoe", Email: "jdoe@example.org",
	}))
	require.Error(t, err)
	assert.True(t, IsAlreadyExists(err))
	var exists *AlreadyExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, "username", exists.Attribute)
	assert.Equal(t, "jdoe", exists.Value)
}

func TestLookupErrors(t *testing.T) {
	ctx := context.Background()
	repo, fake := newTestRepo(t)

	t.Run("not found", func(t *testing.T) {
		_, err := repo.PersonByUsername(ctx, "ghost")
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "ghost", notFound.Value)
	})

	t.Run("duplicate entries", func(t *testing.T) {
		fake.Seed("uid=dup1,"+peopleBase, map[string][]string{
			"objectClass": {"inetOrgPerson"},
			"uid":         {"dup1"},
			"givenName":   {"A"}, "sn": {"One"},
			"mail": {"dup@example.org"},
		})
		fake.Seed("uid=dup2,"+peopleBase, map[string][]string{
			"objectClass": {"inetOrgPerson"},
			"uid":         {"dup2"},
			"givenName":   {"B"}, "sn": {"Two"},
			"mail": {"dup@example.org"},
		})

		_, err := repo.PersonByEmail(ctx, "dup@example.org")
		require.Error(t, err)
		assert.True(t, IsDataInconsistency(err))
		var inconsistent *DataInconsistencyError
		require.ErrorAs(t, err, &inconsistent)
		assert.Equal(t, 2, inconsistent.Count)
	})
}

func TestUpdatePerson(t *testing.T) {
	ctx := context.Background()
	repo, fake := newTestRepo(t)

	require.NoError(t, repo.AddPerson(ctx, newTestPerson(t, person.Fields{
		FirstName: "John", Surname: "Doe", Username: "jdoe",
		Email: "jdoe@example.org", Password: "secret",
	})))

	t.Run("first name only", func(t *testing.T) {
		before := fake.Entry("uid=jdoe," + peopleBase)

		p, err := repo.PersonByUsername(ctx, "jdoe")
		require.NoError(t, err)
		p.FirstName = "Jonathan"
		require.NoError(t, repo.UpdatePerson(ctx, p, false))

		after := fake.Entry("uid=jdoe," + peopleBase)
		assert.Equal(t, "Jonathan", after.GetAttributeValue("givenName"))
		assert.Equal(t, before.GetAttributeValue("mail"), after.GetAttributeValue("mail"))
		assert.Equal(t, before.GetAttributeValue("uid"), after.GetAttributeValue("uid"))
		assert.Equal(t, before.GetAttributeValue("userPassword"), after.GetAttributeValue("userPassword"))
	})

	t.Run("fields", func(t *testing.T) {
		p, err := repo.PersonByUsername(ctx, "jdoe")
		require.NoError(t, err)
		p.Email = "john.doe@example.org"
		p.SetDisplayName("Johnny")

		require.NoError(t, repo.UpdatePerson(ctx, p, false))

		entry := fake.Entry("uid=jdoe," + peopleBase)
		assert.Equal(t, "john.doe@example.org", entry.GetAttributeValue("mail"))
		assert.Equal(t, "Johnny", entry.GetAttributeValue("displayName"))
	})

	t.Run("password untouched by default", func(t *testing.T) {
		before := fake.Entry("uid=jdoe," + peopleBase).GetAttributeValue("userPassword")

		p, err := repo.PersonByUsername(ctx, "jdoe")
		require.NoError(t, err)
		require.NoError(t, p.SetPassword("changed"))
		require.NoError(t, repo.UpdatePerson(ctx, p, false))

		after := fake.Entry("uid=jdoe," + peopleBase).GetAttributeValue("userPassword")
		assert.Equal(t, before, after)
	})

	t.Run("password updated when requested", func(t *testing.T) {
		before := fake.Entry("uid=jdoe," + peopleBase).GetAttributeValue("userPassword")

		p, err := repo.PersonByUsername(ctx, "jdoe")
		require.NoError(t, err)
		require.NoError(t, p.SetPassword("changed"))
		require.NoError(t, repo.UpdatePerson(ctx, p, true))

		after := fake.Entry("uid=jdoe," + peopleBase).GetAttributeValue("userPassword")
		assert.NotEqual(t, before, after)

		got, err := repo.PersonByUsername(ctx, "jdoe")
		require.NoError(t, err)
		assert.True(t, got.CheckPassword("changed"))
	})

	t.Run("unknown person", func(t *testing.T) {
		p := newTestPerson(t, person.Fields{FirstName: "No", Surname: "Body", Username: "nobody"})
		err := repo.UpdatePerson(ctx, p, false)
		assert.True(t, IsNotFound(err))
	})
}

func TestActivation(t *testing.T) {
	ctx := context.Background()
	repo, fake := newTestRepo(t)

	require.NoError(t, repo.AddPerson(ctx, newTestPerson(t, person.Fields{
		FirstName: "John", Surname: "Doe", Username: "jdoe",
	})))
	personDN := "uid=jdoe," + peopleBase

	active, err := repo.IsActive(ctx, "jdoe")
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, repo.ActivatePerson(ctx, "jdoe"))

	active, err = repo.IsActive(ctx, "jdoe")
	require.NoError(t, err)
	assert.True(t, active)
	assert.Contains(t, fake.Entry(activeDN).GetAttributeValues("member"), personDN)

	// Activating again changes nothing.
	require.NoError(t, repo.ActivatePerson(ctx, "jdoe"))
	assert.Len(t, fake.Entry(activeDN).GetAttributeValues("member"), 1)

	require.NoError(t, repo.DeactivatePerson(ctx, "jdoe"))
	active, err = repo.IsActive(ctx, "jdoe")
	require.NoError(t, err)
	assert.False(t, active)

	// Deactivating an inactive person is a no-op.
	require.NoError(t, repo.DeactivatePerson(ctx, "jdoe"))
}

func TestActivationDNCase(t *testing.T) {
	ctx := context.Background()
	repo, fake := newTestRepo(t)

	require.NoError(t, repo.AddPerson(ctx, newTestPerson(t, person.Fields{
		FirstName: "John", Surname: "Doe", Username: "jdoe",
	})))

	// Membership recorded with different case is still recognized.
	fake.Seed(activeDN, map[string][]string{
		"objectClass": {"groupOfNames"},
		"cn":          {"active"},
		"member":      {"UID=JDOE, OU=People, DC=example, DC=org"},
	})

	active, err := repo.IsActive(ctx, "jdoe")
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, repo.ActivatePerson(ctx, "jdoe"))
	assert.Len(t, fake.Entry(activeDN).GetAttributeValues("member"), 1)
}

func TestActivationErrors(t *testing.T) {
	ctx := context.Background()
	repo, fake := newTestRepo(t)

	t.Run("unknown person", func(t *testing.T) {
		err := repo.ActivatePerson(ctx, "ghost")
		assert.True(t, IsNotFound(err))
	})

	t.Run("missing role", func(t *testing.T) {
		require.NoError(t, repo.AddPerson(ctx, newTestPerson(t, person.Fields{
			FirstName: "John", Surname: "Doe", Username: "jdoe",
		})))
		// Drop the role by reseeding it under a different name.
		fake.Seed(activeDN, map[string][]string{
			"objectClass": {"groupOfNames"},
			"cn":          {"inactive"},
		})

		err := repo.ActivatePerson(ctx, "jdoe")
		require.Error(t, err)
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "cn", notFound.Attribute)
	})
}

func TestMapperRoundTrip(t *testing.T) {
	f := person.Fields{
		FirstName:   "John",
		Surname:     "Doe",
		Username:    "jdoe",
		DisplayName: "Johnny",
		Email:       "jdoe@example.org",
		Password:    "$2a$10$abcdefghijklmnopqrstuv",
	}

	attrs := fieldsToAttributes(f, "uid")
	assert.Equal(t, []string{"jdoe"}, attrs["uid"])
	assert.Equal(t, []string{"John Doe"}, attrs["cn"])
	assert.Equal(t, []string{"{CRYPT}$2a$10$abcdefghijklmnopqrstuv"}, attrs["userPassword"])

	entry := &directory.Entry{DN: "uid=jdoe," + peopleBase, Attributes: attrs}
	p, err := personFromEntry(entry, "uid")
	require.NoError(t, err)
	assert.Equal(t, f, p.Snapshot())
}
