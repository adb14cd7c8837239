// Copyright 2026 The OpenTrusty Authors
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

package logger

import "log/slog"

// Common attribute keys for consistent logging across the application

// Request attributes
func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func Method(method string) slog.Attr {
	return slog.String("method", method)
}

func Path(path string) slog.Attr {
	return slog.String("path", path)
}

func RemoteAddr(addr string) slog.Attr {
	return slog.String("remote_addr", addr)
}

func UserAgent(ua string) slog.Attr {
	return slog.String("user_agent", ua)
}

func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}

func Duration(ms int64) slog.Attr {
	return slog.Int64("duration_ms", ms)
}

// Tenancy attributes
func TenantID(id int64) slog.Attr {
	return slog.Int64("tenant_id", id)
}

func TenantIDs(ids []int64) slog.Attr {
	return slog.Any("tenant_ids", ids)
}

func Host(host string) slog.Attr {
	return slog.String("host", host)
}

func Codes(codes []string) slog.Attr {
	return slog.Any("permission_codes", codes)
}

func Locale(locale string) slog.Attr {
	return slog.String("locale", locale)
}

// Identity attributes
func UserID(id int64) slog.Attr {
	return slog.Int64("user_id", id)
}

func SessionID(id string) slog.Attr {
	return slog.String("session_id", id)
}

func ReportID(id string) slog.Attr {
	return slog.String("report_id", id)
}

// Error attributes
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Database attributes
func Query(query string) slog.Attr {
	return slog.String("query", query)
}

func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Component attributes
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Operation(op string) slog.Attr {
	return slog.String("operation", op)
}
