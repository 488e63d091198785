package identity

import (
	"context"
	"evledger/entity"
	"evledger/internal"
	"fmt"
	"time"
)

const featureName = "Identity"

// TagStore is the part of the database used to look up and register tags
type TagStore interface {
	GetUserTag(id string) (*entity.UserTag, error)
	AddUserTag(userTag *entity.UserTag) error
}

// RemoteAuthorizer asks a federation partner about a tag that is not known locally
type RemoteAuthorizer interface {
	AuthorizeTag(ctx context.Context, idTag string) (bool, error)
}

type Resolver struct {
	store         TagStore
	remote        RemoteAuthorizer
	acceptUnknown bool
	logger        internal.LogHandler
}

func NewResolver(store TagStore, logger internal.LogHandler) *Resolver {
	return &Resolver{store: store, logger: logger}
}

func (r *Resolver) SetRemoteAuthorizer(remote RemoteAuthorizer) {
	r.remote = remote
}

// SetAcceptUnknown registers unknown tags as enabled instead of blocking them
func (r *Resolver) SetAcceptUnknown(accept bool) {
	r.acceptUnknown = accept
}

// ResolveTag returns the user behind an accepted tag, nil when the tag is unknown, disabled or refused
func (r *Resolver) ResolveTag(ctx context.Context, tagId string) (*entity.UserRef, error) {
	source, id := entity.SplitIdTag(tagId)
	if id == "" {
		return nil, nil
	}
	if r.store == nil {
		return &entity.UserRef{IdTag: id, Source: source}, nil
	}
	userTag, err := r.store.GetUserTag(id)
	if err != nil {
		return nil, fmt.Errorf("get user tag: %w", err)
	}
	if userTag != nil {
		if !userTag.IsEnabled {
			r.log(id, "tag is disabled")
			return nil, nil
		}
		return userTag.Ref(), nil
	}

	if r.remote != nil {
		allowed, err := r.remote.AuthorizeTag(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("remote authorization: %w", err)
		}
		if allowed {
			r.log(id, "authorized by partner")
			return &entity.UserRef{IdTag: id, Source: entity.TagSourceRemote}, nil
		}
	}

	// unknown tags are registered so that an operator can enable them later
	userTag = entity.NewUserTag(tagId)
	userTag.IsEnabled = r.acceptUnknown
	userTag.LastSeen = time.Now().UTC()
	if err = r.store.AddUserTag(userTag); err != nil && r.logger != nil {
		r.logger.Error("add user tag", err)
	}
	if !r.acceptUnknown {
		r.log(id, "unknown tag registered as disabled")
		return nil, nil
	}
	r.log(id, "unknown tag accepted")
	return userTag.Ref(), nil
}

func (r *Resolver) log(id, text string) {
	if r.logger != nil {
		r.logger.FeatureEvent(featureName, id, text)
	}
}
