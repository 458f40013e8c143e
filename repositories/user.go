//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	goerrors "errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/arkonsol/ark-app/domain"
	"github.com/arkonsol/ark-app/errors"
)

type IUserRepository interface {
	StoreUser(user domain.User) error
	GetUser(walletAddress string) (domain.User, error)
	GetUserByUsername(username string) (domain.User, error)
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) IUserRepository {
	return &UserRepository{db: db}
}

func userKey(walletAddress string) []byte {
	return []byte("user:" + walletAddress)
}

// usernameKey is the unique index from username to wallet address.
func usernameKey(username string) []byte {
	return []byte("username:" + username)
}

// StoreUser upserts a user keyed by wallet address. Usernames are
// unique across the store; claiming one held by another wallet fails
// with ErrUsernameTaken. Renames release the previous username.
func (u UserRepository) StoreUser(user domain.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}

	return u.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(usernameKey(user.Username))
		switch {
		case err == nil:
			owner, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if string(owner) != user.WalletAddress {
				return errors.ErrUsernameTaken
			}
		case !goerrors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		item, err = txn.Get(userKey(user.WalletAddress))
		if err == nil {
			var previous domain.User
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &previous)
			})
			if err != nil {
				return err
			}
			if previous.Username != user.Username {
				if err = txn.Delete(usernameKey(previous.Username)); err != nil {
					return err
				}
			}
		} else if !goerrors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err = txn.Set(usernameKey(user.Username), []byte(user.WalletAddress)); err != nil {
			return err
		}
		return txn.Set(userKey(user.WalletAddress), data)
	})
}

func (u UserRepository) GetUser(walletAddress string) (domain.User, error) {
	var user domain.User
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(walletAddress))
		if goerrors.Is(err, badger.ErrKeyNotFound) {
			return errors.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &user)
		})
	})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// GetUserByUsername resolves the unique username index first, then the
// user record itself.
func (u UserRepository) GetUserByUsername(username string) (domain.User, error) {
	var walletAddress string
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(usernameKey(username))
		if goerrors.Is(err, badger.ErrKeyNotFound) {
			return errors.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		walletAddress = string(value)
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return u.GetUser(walletAddress)
}
