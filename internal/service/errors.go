package service

import "errors"

var (
	ErrAssessmentNotFound = errors.New("assessment not found")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrInvalidExaminee    = errors.New("examinee id is required")
)
