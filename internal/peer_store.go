package internal

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type DuplicatePeerIdError struct {
	Id uint32
}

func (e *DuplicatePeerIdError) Error() string {
	return fmt.Sprintf("Attempted to register peer with duplicate ID %d", e.Id)
}

type MissingPeerIdError struct {
	Id uint32
}

func (e *MissingPeerIdError) Error() string {
	return fmt.Sprintf("Missing peer with id=%d", e.Id)
}

type TooManyPeersError struct{}

func (e *TooManyPeersError) Error() string {
	return "Too many peers are connected - cannot register new peer"
}

// PeerMetadata is the hub-side bookkeeping for one connected peer. The
// LastRecvTime ages against the heartbeat sweep; UserName is filled in once
// the peer announces itself with an addUser event.
type PeerMetadata struct {
	Mut          sync.RWMutex
	UserName     string
	CreatedTime  int64
	LastRecvTime int64
}

type PeerStore struct {
	MaxPeers int

	nextPeerId atomic.Uint32

	mut_peers sync.RWMutex
	peers     map[uint32]*PeerMetadata
}

func CreatePeerStore(maxPeers int) *PeerStore {
	return &PeerStore{
		MaxPeers:   maxPeers,
		nextPeerId: atomic.Uint32{},
		mut_peers:  sync.RWMutex{},
		peers:      make(map[uint32]*PeerMetadata),
	}
}

func (store *PeerStore) GetNewPeerId() uint32 {
	return store.nextPeerId.Add(1)
}

func (store *PeerStore) HasPeer(peerId uint32) bool {
	store.mut_peers.RLock()
	defer store.mut_peers.RUnlock()

	_, has := store.peers[peerId]
	return has
}

func (store *PeerStore) Count() int {
	store.mut_peers.RLock()
	defer store.mut_peers.RUnlock()

	return len(store.peers)
}

func (store *PeerStore) RegisterPeer(peerId uint32, timestamp int64) error {
	store.mut_peers.Lock()
	defer store.mut_peers.Unlock()

	if _, has := store.peers[peerId]; has {
		return &DuplicatePeerIdError{Id: peerId}
	}

	if store.MaxPeers > 0 && len(store.peers) >= store.MaxPeers {
		return &TooManyPeersError{}
	}

	store.peers[peerId] = &PeerMetadata{
		Mut:          sync.RWMutex{},
		UserName:     "",
		CreatedTime:  timestamp,
		LastRecvTime: timestamp,
	}

	return nil
}

func (store *PeerStore) RemovePeer(peerId uint32) {
	store.mut_peers.Lock()
	defer store.mut_peers.Unlock()
	delete(store.peers, peerId)
}

func (store *PeerStore) SetUserName(peerId uint32, userName string) error {
	store.mut_peers.RLock()
	defer store.mut_peers.RUnlock()

	peer, has := store.peers[peerId]
	if !has {
		return &MissingPeerIdError{Id: peerId}
	}

	peer.Mut.Lock()
	defer peer.Mut.Unlock()

	peer.UserName = userName
	return nil
}

func (store *PeerStore) GetUserName(peerId uint32) (string, error) {
	store.mut_peers.RLock()
	defer store.mut_peers.RUnlock()

	peer, has := store.peers[peerId]
	if !has {
		return "", &MissingPeerIdError{Id: peerId}
	}

	peer.Mut.RLock()
	defer peer.Mut.RUnlock()

	return peer.UserName, nil
}

func (store *PeerStore) SetRecvTimestamp(peerId uint32, timestamp int64) error {
	store.mut_peers.RLock()
	defer store.mut_peers.RUnlock()

	peer, has := store.peers[peerId]
	if !has {
		return &MissingPeerIdError{Id: peerId}
	}

	peer.Mut.Lock()
	defer peer.Mut.Unlock()

	peer.LastRecvTime = timestamp
	return nil
}

// GetTimeoutPeerList returns every peer whose last received frame is older
// than the given deadline. The sweep force-closes these.
func (store *PeerStore) GetTimeoutPeerList(recvDeadline int64) []uint32 {
	store.mut_peers.RLock()
	defer store.mut_peers.RUnlock()

	peersToKick := []uint32{}

	for peerId, peer := range store.peers {
		peer.Mut.RLock()
		shouldKick := peer.LastRecvTime < recvDeadline
		peer.Mut.RUnlock()

		if shouldKick {
			peersToKick = append(peersToKick, peerId)
		}
	}

	return peersToKick
}
