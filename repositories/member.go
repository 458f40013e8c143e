//go:generate go run go.uber.org/mock/mockgen -source=member.go -destination=../mocks/mock_member_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	goerrors "errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/arkonsol/ark-app/domain"
	"github.com/arkonsol/ark-app/errors"
)

type IMemberRepository interface {
	StoreMember(member domain.Member) error
	GetMember(roomID, walletAddress string) (domain.Member, error)
	GetMembers(roomID string) ([]domain.Member, error)
	RemoveMember(roomID, walletAddress string) error
}

type MemberRepository struct {
	db *badger.DB
}

func NewMemberRepository(db *badger.DB) IMemberRepository {
	return &MemberRepository{db: db}
}

func memberKey(roomID, walletAddress string) []byte {
	return []byte("member:" + roomID + ":" + walletAddress)
}

func (m MemberRepository) StoreMember(member domain.Member) error {
	data, err := json.Marshal(member)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(memberKey(member.RoomID, member.WalletAddress), data)
	})
}

func (m MemberRepository) GetMember(roomID, walletAddress string) (domain.Member, error) {
	var member domain.Member
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(memberKey(roomID, walletAddress))
		if goerrors.Is(err, badger.ErrKeyNotFound) {
			return errors.ErrMemberNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &member)
		})
	})
	if err != nil {
		return domain.Member{}, err
	}
	return member, nil
}

// GetMembers lists the membership of a room with a prefix scan.
func (m MemberRepository) GetMembers(roomID string) ([]domain.Member, error) {
	var members []domain.Member
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte("member:" + roomID + ":")
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var member domain.Member
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &member)
			})
			if err != nil {
				return err
			}
			members = append(members, member)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (m MemberRepository) RemoveMember(roomID, walletAddress string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(memberKey(roomID, walletAddress))
	})
}
