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

package i18n

import (
	"strings"
	"sync/atomic"

	"golang.org/x/text/language"
)

// Locale holds the active locale of the process.
type Locale struct {
	tag atomic.Pointer[language.Tag]
}

// NewLocale creates a holder set to def, or to English when def does not parse
func NewLocale(def string) *Locale {
	l := &Locale{}
	tag, ok := LocaleFromLang(def)
	if !ok {
		tag = language.AmericanEnglish
	}
	l.Set(tag)
	return l
}

// Set switches the active locale
func (l *Locale) Set(tag language.Tag) {
	l.tag.Store(&tag)
}

// Current returns the active locale
func (l *Locale) Current() language.Tag {
	return *l.tag.Load()
}

// String returns the active locale in underscore form, e.g. "en_US"
func (l *Locale) String() string {
	return strings.ReplaceAll(l.Current().String(), "-", "_")
}

// LocaleFromLang expands a language code into a full locale using likely
// subtags ("de" -> de-DE, "pt_BR" -> pt-BR). Returns false for codes that do
// not name a known language.
func LocaleFromLang(lang string) (language.Tag, bool) {
	lang = strings.TrimSpace(strings.ReplaceAll(lang, "_", "-"))
	if lang == "" {
		return language.Und, false
	}

	tag, err := language.Parse(lang)
	if err != nil {
		return language.Und, false
	}

	base, conf := tag.Base()
	if conf == language.No {
		return language.Und, false
	}
	region, _ := tag.Region()

	full, err := language.Compose(base, region)
	if err != nil {
		return language.Und, false
	}
	return full, true
}
