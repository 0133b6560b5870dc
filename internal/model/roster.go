package model

import "time"

// Role is a user's authority level
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleTeacher    Role = "TEACHER"
	RoleStudent    Role = "STUDENT"
)

// IsAdmin reports whether the role has school-wide authority
func (r Role) IsAdmin() bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}

// User is an account that can sign in
type User struct {
	ID           string    `json:"id" bson:"_id,omitempty"`
	Name         string    `json:"name" bson:"name"`
	Email        string    `json:"email" bson:"email"`
	Role         Role      `json:"role" bson:"role"`
	SupervisorID string    `json:"supervisorId,omitempty" bson:"supervisorId,omitempty"` // admin responsible for this user
	PasswordHash string    `json:"-" bson:"passwordHash"`
	IsActive     bool      `json:"isActive" bson:"isActive"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
}

// Class groups students under one or more teachers
type Class struct {
	ID         string    `json:"id" bson:"_id,omitempty"`
	Name       string    `json:"name" bson:"name"`
	TeacherIDs []string  `json:"teacherIds" bson:"teacherIds"`
	IsActive   bool      `json:"isActive" bson:"isActive"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
}

// HasTeacher reports whether userID teaches the class
func (c *Class) HasTeacher(userID string) bool {
	for _, id := range c.TeacherIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Student is a roster entry of a class
type Student struct {
	ID         string    `json:"id" bson:"_id,omitempty"`
	ClassID    string    `json:"classId" bson:"classId"`
	UserID     string    `json:"userId,omitempty" bson:"userId,omitempty"` // login account, if any
	Name       string    `json:"name" bson:"name"`
	RollNumber string    `json:"rollNumber" bson:"rollNumber"`
	Email      string    `json:"email,omitempty" bson:"email,omitempty"`
	IsActive   bool      `json:"isActive" bson:"isActive"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
}

// ExamQuestion is one gradable item of an exam
type ExamQuestion struct {
	Number        int     `json:"number" bson:"number" validate:"required,gt=0"`
	Text          string  `json:"text" bson:"text"`
	CorrectAnswer string  `json:"correctAnswer" bson:"correctAnswer"`
	Marks         float64 `json:"marks" bson:"marks" validate:"gte=0"`
}

// Exam is a graded assessment for a class
type Exam struct {
	ID         string         `json:"id" bson:"_id,omitempty"`
	ClassID    string         `json:"classId" bson:"classId"`
	SubjectID  string         `json:"subjectId,omitempty" bson:"subjectId,omitempty"`
	Title      string         `json:"title" bson:"title"`
	Language   string         `json:"language" bson:"language"`
	TotalMarks float64        `json:"totalMarks" bson:"totalMarks"`
	Questions  []ExamQuestion `json:"questions" bson:"questions"`
	ExamDate   time.Time      `json:"examDate" bson:"examDate"`
	CreatedBy  string         `json:"createdBy" bson:"createdBy"`
	CreatedAt  time.Time      `json:"createdAt" bson:"createdAt"`
}

// Question returns the exam question with the given number
func (e *Exam) Question(number int) (ExamQuestion, bool) {
	for _, q := range e.Questions {
		if q.Number == number {
			return q, true
		}
	}
	return ExamQuestion{}, false
}

// MaxMarks returns TotalMarks, or the sum of question marks when unset
func (e *Exam) MaxMarks() float64 {
	if e.TotalMarks > 0 {
		return e.TotalMarks
	}
	total := 0.0
	for _, q := range e.Questions {
		total += q.Marks
	}
	return total
}
