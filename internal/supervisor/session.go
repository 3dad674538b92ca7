package supervisor

import (
	"context"

	"trackrelay/internal/logging"
	"trackrelay/internal/wrapper"
)

// Login forwards credentials to the backend. A LoginNeed2FA result means the
// caller must repeat the call with the verification code.
func (s *Supervisor) Login(ctx context.Context, account, password, code string) (wrapper.LoginResult, error) {
	res, err := s.backend.Login(ctx, account, password, code)
	if err != nil {
		return res, err
	}
	s.mu.Lock()
	switch res.Code {
	case wrapper.LoginOK:
		s.upsertAccountLocked(wrapper.Account{Account: account, Authenticated: true})
	case wrapper.LoginNeed2FA:
		s.upsertAccountLocked(wrapper.Account{Account: account, Pending2FA: true})
	}
	s.mu.Unlock()
	s.logger.Info("wrapper login",
		logging.String(logging.FieldEventType, "wrapper_login"),
		logging.String("account", account),
		logging.Int("result_code", res.Code),
	)
	return res, nil
}

// Logout ends the backend session for account.
func (s *Supervisor) Logout(ctx context.Context, account string) error {
	if err := s.backend.Logout(ctx, account); err != nil {
		return err
	}
	s.mu.Lock()
	kept := s.inst.Accounts[:0]
	for _, acct := range s.inst.Accounts {
		if acct.Account != account {
			kept = append(kept, acct)
		}
	}
	s.inst.Accounts = kept
	s.mu.Unlock()
	s.logger.Info("wrapper logout",
		logging.String(logging.FieldEventType, "wrapper_logout"),
		logging.String("account", account),
	)
	return nil
}

// Sessions returns the accounts known from the last probe or login.
func (s *Supervisor) Sessions() []wrapper.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wrapper.Account(nil), s.inst.Accounts...)
}

// SessionValid reports whether dispatch may proceed with respect to
// authentication. It is always true when the backend does not require it.
func (s *Supervisor) SessionValid() bool {
	if !s.requireAuth {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acct := range s.inst.Accounts {
		if acct.Authenticated {
			return true
		}
	}
	return false
}

func (s *Supervisor) upsertAccountLocked(acct wrapper.Account) {
	for i := range s.inst.Accounts {
		if s.inst.Accounts[i].Account == acct.Account {
			s.inst.Accounts[i] = acct
			return
		}
	}
	s.inst.Accounts = append(s.inst.Accounts, acct)
}
