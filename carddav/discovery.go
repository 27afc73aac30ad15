package carddav

import (
	"context"
	"fmt"
)

// wellKnownPath is the bootstrapping path of RFC 6764 section 5.
const wellKnownPath = "/.well-known/carddav"

// FindAddressBook locates the user's address book: the current user
// principal, its address book home set, then the first address book
// collection in the home set. Failures are returned as *DiscoveryError.
func (s *Session) FindAddressBook(ctx context.Context) (*AddressBook, error) {
	principal, err := s.FindCurrentUserPrincipal(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Debug().Err(err).Msg("endpoint did not report a principal, trying " + wellKnownPath)
		principal, err = s.FindCurrentUserPrincipalAt(ctx, wellKnownPath)
	}
	if err != nil {
		return nil, discoveryError(ctx, StepPrincipal, err)
	}

	homeSet, err := s.FindAddressBookHomeSet(ctx, principal)
	if err != nil {
		return nil, discoveryError(ctx, StepHomeSet, err)
	}

	abs, err := s.FindAddressBooks(ctx, homeSet)
	if err != nil {
		return nil, discoveryError(ctx, StepAddressBook, err)
	}
	if len(abs) == 0 {
		return nil, &DiscoveryError{Step: StepAddressBook, Err: errNoAddressBook}
	}

	s.logger.Debug().Str("address_book", abs[0].URL).Msg("found address book")
	return &abs[0], nil
}

func discoveryError(ctx context.Context, step DiscoveryStep, err error) error {
	if ctxErr := contextError(ctx); ctxErr != nil {
		return ctxErr
	}
	if isTimeout(err) {
		err = fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return &DiscoveryError{Step: step, Err: err}
}
