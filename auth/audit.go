// Copyright 2020-2021 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"time"

	"github.com/sirupsen/logrus"
)

// AuditMethod is called to log the audit trail of verb calls.
type AuditMethod interface {
	// Authorization logs an authorization check for one verb call.
	Authorization(verb string, p Permission, err error)
	// Verb logs the execution of a verb call, after authorization passed.
	Verb(verb string, d time.Duration, err error)
}

// NewAudit wraps auth so every Allowed call is also sent to method.
func NewAudit(auth Authenticator, method AuditMethod) Authenticator {
	return &Audit{auth: auth, method: method}
}

// Audit is an Authenticator proxy that sends audit trails to an
// AuditMethod, mirroring the teacher's Audit/MysqlAudit wrapper shape with
// the mysql.AuthServer surface replaced by the plain Authenticator one.
type Audit struct {
	auth   Authenticator
	method AuditMethod
}

var _ Authenticator = (*Audit)(nil)

// Allowed implements Authenticator.
func (a *Audit) Allowed(token string, permission Permission) error {
	err := a.auth.Allowed(token, permission)
	a.method.Authorization("", permission, err)
	return err
}

// AllowedVerb is like Allowed but names the verb being authorized, letting
// the audit trail record which §6.4 operation was attempted.
func (a *Audit) AllowedVerb(verb, token string, permission Permission) error {
	err := a.auth.Allowed(token, permission)
	a.method.Authorization(verb, permission, err)
	return err
}

// Verb records the completion of a verb call, after authorization passed.
func (a *Audit) Verb(verb string, d time.Duration, err error) {
	a.method.Verb(verb, d, err)
}

// NewAuditLog creates a new AuditMethod that logs to a logrus.Logger.
func NewAuditLog(l *logrus.Logger) AuditMethod {
	return &AuditLog{log: l.WithField("system", "audit")}
}

const auditLogMessage = "audit trail"

// AuditLog logs audit trails to a logrus.Logger.
type AuditLog struct {
	log *logrus.Entry
}

var _ AuditMethod = (*AuditLog)(nil)

// Authorization implements AuditMethod.
func (a *AuditLog) Authorization(verb string, p Permission, err error) {
	fields := logrus.Fields{
		"action":     "authorization",
		"verb":       verb,
		"permission": p.String(),
		"success":    true,
	}
	if err != nil {
		fields["success"] = false
		fields["err"] = err
	}
	a.log.WithFields(fields).Info(auditLogMessage)
}

// Verb implements AuditMethod.
func (a *AuditLog) Verb(verb string, d time.Duration, err error) {
	fields := logrus.Fields{
		"action":   "verb",
		"verb":     verb,
		"duration": d,
		"success":  true,
	}
	if err != nil {
		fields["success"] = false
		fields["err"] = err
	}
	a.log.WithFields(fields).Info(auditLogMessage)
}
