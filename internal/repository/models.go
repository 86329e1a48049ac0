package repository

import (
	"time"
)

// Person is an enrolled student whose face can be registered.
type Person struct {
	ID         uint      `gorm:"primaryKey"`
	FullName   string    `gorm:"column:full_name;size:255;not null"`
	RollNumber string    `gorm:"column:roll_number;size:64;uniqueIndex;not null"`
	ClassName  string    `gorm:"column:class_name;size:255"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (Person) TableName() string {
	return "people"
}

// Subject is the class context attendance is taken for.
type Subject struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"column:name;size:255;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (Subject) TableName() string {
	return "subjects"
}

// Enrollment links a person to a subject they may be marked present in.
type Enrollment struct {
	PersonID  uint      `gorm:"column:person_id;primaryKey;autoIncrement:false"`
	SubjectID uint      `gorm:"column:subject_id;primaryKey;autoIncrement:false;index"`
	CreatedAt time.Time `gorm:"column:created_at"`

	Person  *Person  `gorm:"foreignKey:PersonID;constraint:OnDelete:CASCADE"`
	Subject *Subject `gorm:"foreignKey:SubjectID;constraint:OnDelete:CASCADE"`
}

// TableName overrides the default table name.
func (Enrollment) TableName() string {
	return "enrollments"
}

// FaceEmbedding is the single registered face of a person, stored as a JSON array.
// Rows go away with their person.
type FaceEmbedding struct {
	ID        uint      `gorm:"primaryKey"`
	PersonID  uint      `gorm:"column:person_id;uniqueIndex;not null"`
	Embedding string    `gorm:"column:embedding;type:text;not null"`
	Dim       int       `gorm:"column:dim;not null"`
	Model     string    `gorm:"column:model;size:128"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`

	Person *Person `gorm:"foreignKey:PersonID;constraint:OnDelete:CASCADE"`
}

// TableName overrides the default table name.
func (FaceEmbedding) TableName() string {
	return "face_embeddings"
}

// AttendanceStatus is the recorded presence of a person in a subject on a day.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusAbsent  AttendanceStatus = "absent"
)

// Attendance is one row per (person, subject, date).
type Attendance struct {
	ID        uint             `gorm:"primaryKey"`
	PersonID  uint             `gorm:"column:person_id;not null;uniqueIndex:idx_attendance_person_subject_date,priority:1"`
	SubjectID uint             `gorm:"column:subject_id;not null;uniqueIndex:idx_attendance_person_subject_date,priority:2;index"`
	Date      time.Time        `gorm:"column:date;type:date;not null;uniqueIndex:idx_attendance_person_subject_date,priority:3"`
	Status    AttendanceStatus `gorm:"column:status;size:16;not null"`
	MarkedBy  string           `gorm:"column:marked_by;size:64"`
	CreatedAt time.Time        `gorm:"column:created_at"`
	UpdatedAt time.Time        `gorm:"column:updated_at"`

	Person  *Person  `gorm:"foreignKey:PersonID;constraint:OnDelete:CASCADE"`
	Subject *Subject `gorm:"foreignKey:SubjectID;constraint:OnDelete:CASCADE"`
}

// TableName overrides the default table name.
func (Attendance) TableName() string {
	return "attendances"
}

// DateOnly truncates t to its calendar day in loc, expressed as midnight UTC so the
// value survives DATE columns regardless of the database session time zone.
func DateOnly(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
