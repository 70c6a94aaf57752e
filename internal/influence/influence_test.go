package influence

import (
	"testing"

	"github.com/BMeu/crgp/internal/cascade"
	"github.com/BMeu/crgp/internal/domain"
)

func TestDetectFallsBackToOriginalAuthor(t *testing.T) {
	r := domain.Retweet{ID: 1, User: 5, Timestamp: 100, CascadeID: 10, OriginalAuthor: 3}
	edge := Detect(r, domain.FriendSet{}, nil)
	if edge.Influencer != 3 {
		t.Errorf("Influencer = %d, want original author 3", edge.Influencer)
	}
}

func TestDetectPicksMostRecentFriend(t *testing.T) {
	state := &cascade.State{Entries: map[domain.UID]int64{
		3: domain.SeedEntryTimestamp,
		7: 100,
		8: 150,
		9: 50,
	}}
	friends := domain.NewFriendSet([]domain.UID{7, 8, 9})
	r := domain.Retweet{ID: 1, User: 5, Timestamp: 200, CascadeID: 10, OriginalAuthor: 3}

	edge := Detect(r, friends, state)
	if edge.Influencer != 8 {
		t.Errorf("Influencer = %d, want 8 (most recent entry)", edge.Influencer)
	}
}

func TestDetectTieBreaksOnSmallerUID(t *testing.T) {
	state := &cascade.State{Entries: map[domain.UID]int64{
		3: domain.SeedEntryTimestamp,
		7: 100,
		4: 100,
	}}
	friends := domain.NewFriendSet([]domain.UID{7, 4})
	r := domain.Retweet{ID: 1, User: 5, Timestamp: 200, CascadeID: 10, OriginalAuthor: 3}

	edge := Detect(r, friends, state)
	if edge.Influencer != 4 {
		t.Errorf("Influencer = %d, want 4 (smaller UID wins tie)", edge.Influencer)
	}
}

func TestDetectExcludesSelf(t *testing.T) {
	state := &cascade.State{Entries: map[domain.UID]int64{
		3: domain.SeedEntryTimestamp,
		5: 150,
	}}
	friends := domain.NewFriendSet([]domain.UID{5})
	r := domain.Retweet{ID: 1, User: 5, Timestamp: 200, CascadeID: 10, OriginalAuthor: 3}

	edge := Detect(r, friends, state)
	if edge.Influencer != 3 {
		t.Errorf("Influencer = %d, want fallback to original author 3 since only candidate is self", edge.Influencer)
	}
}

func TestDetectIgnoresFriendsNotInCascade(t *testing.T) {
	state := &cascade.State{Entries: map[domain.UID]int64{
		3: domain.SeedEntryTimestamp,
	}}
	friends := domain.NewFriendSet([]domain.UID{99, 100})
	r := domain.Retweet{ID: 1, User: 5, Timestamp: 200, CascadeID: 10, OriginalAuthor: 3}

	edge := Detect(r, friends, state)
	if edge.Influencer != 3 {
		t.Errorf("Influencer = %d, want original author 3 when no friend is in the cascade", edge.Influencer)
	}
}
