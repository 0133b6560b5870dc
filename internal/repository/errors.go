package repository

import (
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
)

var (
	// ErrDuplicateSheet is returned when a write would give a student a second active sheet for one exam
	ErrDuplicateSheet = errors.New("an active answer sheet already exists for this student")
	// ErrVersionConflict is returned when a sheet changed between read and save
	ErrVersionConflict = errors.New("answer sheet was modified concurrently")
	// ErrDuplicateRollNumber is returned when a class already has an active student with the roll number
	ErrDuplicateRollNumber = errors.New("roll number already taken in class")
	// ErrDuplicateEmail is returned when a user email is taken
	ErrDuplicateEmail = errors.New("email already registered")
)

func isDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}
