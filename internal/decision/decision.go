// Copyright (c) 2026 John Earle
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

// Package decision applies numeric thresholds to classification scores and
// resolves conflicts between the importance and spam verdicts.
package decision

import (
	"fmt"

	"github.com/jearle/mailsift/internal/models"
)

// Status tags a classification result.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Metadata keys recorded on a result.
const (
	MetaConflict = "conflict" // set when spam overrode importance
	MetaBoundary = "boundary" // set when a score landed exactly on a threshold
	MetaReason   = "reason"   // set on error results
)

// Result is the immutable outcome of threshold classification.
type Result struct {
	Important       bool
	Spam            bool
	ImportanceScore int
	SpamScore       int
	Confidence      float64
	Status          Status
	Metadata        map[string]string
}

// Classify applies inclusive thresholds to the two scores.
//
// A sentinel score of -1 on either input indicates an upstream classification
// failure and short-circuits to an error result with both effective scores
// fixed at -1. Scores outside [0,10] are treated the same way. When both
// verdicts would be true, spam takes precedence: importance is forced false
// and the override is recorded in the metadata. Confidence grows with the
// distance from the nearer threshold boundary and is metadata only.
func Classify(importanceScore, spamScore, importanceThreshold, spamThreshold int) Result {
	if importanceScore == models.SentinelScore || spamScore == models.SentinelScore {
		return errorResult("classifier returned sentinel score")
	}
	if !validScore(importanceScore) || !validScore(spamScore) {
		return errorResult(fmt.Sprintf("score out of range: importance=%d spam=%d", importanceScore, spamScore))
	}

	res := Result{
		Important:       importanceScore >= importanceThreshold,
		Spam:            spamScore >= spamThreshold,
		ImportanceScore: importanceScore,
		SpamScore:       spamScore,
		Status:          StatusSuccess,
		Metadata:        map[string]string{},
	}

	switch {
	case importanceScore == importanceThreshold && spamScore == spamThreshold:
		res.Metadata[MetaBoundary] = "both"
	case importanceScore == importanceThreshold:
		res.Metadata[MetaBoundary] = "importance"
	case spamScore == spamThreshold:
		res.Metadata[MetaBoundary] = "spam"
	}

	if res.Important && res.Spam {
		res.Important = false
		res.Metadata[MetaConflict] = "spam_over_importance"
	}

	res.Confidence = confidence(importanceScore, spamScore, importanceThreshold, spamThreshold)

	return res
}

func validScore(s int) bool {
	return s >= 0 && s <= 10
}

// confidence maps the distance from the nearer threshold boundary into [0,1].
func confidence(imp, spam, impThreshold, spamThreshold int) float64 {
	d := abs(imp - impThreshold)
	if sd := abs(spam - spamThreshold); sd < d {
		d = sd
	}
	c := float64(d) / 10
	if c > 1 {
		c = 1
	}
	return c
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func errorResult(reason string) Result {
	return Result{
		ImportanceScore: models.SentinelScore,
		SpamScore:       models.SentinelScore,
		Status:          StatusError,
		Metadata:        map[string]string{MetaReason: reason},
	}
}
