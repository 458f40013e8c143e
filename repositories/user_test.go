package repositories

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arkonsol/ark-app/domain"
	"github.com/arkonsol/ark-app/errors"
)

func Test_Store_And_Get_User(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openTestDB(t))

	user := domain.User{
		WalletAddress: "wallet-alice",
		Username:      "alice",
		CreatedAt:     time.Now().UTC(),
		Status:        domain.UserOnline,
	}
	req.NoError(repository.StoreUser(user))

	byWallet, err := repository.GetUser("wallet-alice")
	req.NoError(err)
	req.Equal("alice", byWallet.Username)

	byName, err := repository.GetUserByUsername("alice")
	req.NoError(err)
	req.Equal("wallet-alice", byName.WalletAddress)

	_, err = repository.GetUser("wallet-nobody")
	req.ErrorIs(err, errors.ErrUserNotFound)
}

func Test_Username_Is_Unique(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openTestDB(t))

	req.NoError(repository.StoreUser(domain.User{WalletAddress: "wallet-alice", Username: "alice"}))

	err := repository.StoreUser(domain.User{WalletAddress: "wallet-bob", Username: "alice"})
	req.ErrorIs(err, errors.ErrUsernameTaken)
}

func Test_Rename_Releases_Previous_Username(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openTestDB(t))

	req.NoError(repository.StoreUser(domain.User{WalletAddress: "wallet-alice", Username: "alice"}))
	req.NoError(repository.StoreUser(domain.User{WalletAddress: "wallet-alice", Username: "alicia"}))

	_, err := repository.GetUserByUsername("alice")
	req.ErrorIs(err, errors.ErrUserNotFound)

	req.NoError(repository.StoreUser(domain.User{WalletAddress: "wallet-bob", Username: "alice"}))
}

func Test_Members_Lifecycle(t *testing.T) {
	req := require.New(t)
	repository := NewMemberRepository(openTestDB(t))

	alice := domain.Member{RoomID: "room1", WalletAddress: "wallet-alice", Username: "alice", Role: domain.RoleAdmin}
	bob := domain.Member{RoomID: "room1", WalletAddress: "wallet-bob", Username: "bob", Role: domain.RoleMember}
	req.NoError(repository.StoreMember(alice))
	req.NoError(repository.StoreMember(bob))
	req.NoError(repository.StoreMember(domain.Member{RoomID: "room2", WalletAddress: "wallet-bob", Username: "bob", Role: domain.RoleMember}))

	members, err := repository.GetMembers("room1")
	req.NoError(err)
	req.Len(members, 2)

	req.NoError(repository.RemoveMember("room1", "wallet-bob"))
	members, err = repository.GetMembers("room1")
	req.NoError(err)
	req.Len(members, 1)
	req.Equal("alice", members[0].Username)

	_, err = repository.GetMember("room1", "wallet-bob")
	req.ErrorIs(err, errors.ErrMemberNotFound)
}
