package services

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mcqkit/correction-service/internal/models"
	"github.com/mcqkit/correction-service/internal/repositories"
)

// mockRepository is an in-memory Repository for service tests. Transactions
// run against the same store; nothing is rolled back.
type mockRepository struct {
	mu sync.Mutex

	keys      map[uint]*models.AnswerKey
	questions map[uint][]models.Question // key id -> questions
	batches   map[string]*models.DetectionBatch
	records   map[uint]*models.DetectionRecord
	decisions []*models.Decision
	flags     []*models.ReviewFlag
	users     map[string]*models.User

	stats *repositories.CorrectionStats

	nextKeyID      uint
	nextRecordID   uint
	nextDecisionID uint
	nextFlagID     uint

	txCalls int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		keys:      make(map[uint]*models.AnswerKey),
		questions: make(map[uint][]models.Question),
		batches:   make(map[string]*models.DetectionBatch),
		records:   make(map[uint]*models.DetectionRecord),
		users:     make(map[string]*models.User),
	}
}

func (m *mockRepository) AnswerKey() repositories.AnswerKeyRepository {
	return &mockAnswerKeyRepo{m}
}

func (m *mockRepository) Question() repositories.QuestionRepository {
	return &mockQuestionRepo{m}
}

func (m *mockRepository) DetectionBatch() repositories.DetectionBatchRepository {
	return &mockBatchRepo{m}
}

func (m *mockRepository) Detection() repositories.DetectionRepository {
	return &mockDetectionRepo{m}
}

func (m *mockRepository) Decision() repositories.DecisionRepository {
	return &mockDecisionRepo{m}
}

func (m *mockRepository) ReviewFlag() repositories.ReviewFlagRepository {
	return &mockReviewFlagRepo{m}
}

func (m *mockRepository) User() repositories.UserRepository {
	return &mockUserRepo{m}
}

func (m *mockRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	m.mu.Lock()
	m.txCalls++
	m.mu.Unlock()
	return fn(m)
}

func (m *mockRepository) transactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txCalls
}

func (m *mockRepository) Ping(ctx context.Context) error { return nil }
func (m *mockRepository) Close() error                   { return nil }

// ===== FIXTURE HELPERS =====

func (m *mockRepository) addKey(status models.KeyStatus, questions ...models.Question) *models.AnswerKey {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextKeyID++
	key := &models.AnswerKey{
		ID:        m.nextKeyID,
		Title:     "Midterm",
		Status:    status,
		CreatedBy: "teacher-1",
		CreatedAt: time.Now(),
	}
	for i := range questions {
		questions[i].AnswerKeyID = key.ID
		questions[i].ID = uint(i + 1)
	}
	m.keys[key.ID] = key
	m.questions[key.ID] = questions
	return key
}

func (m *mockRepository) addBatch(keyID uint, id string) *models.DetectionBatch {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := &models.DetectionBatch{
		ID:          id,
		AnswerKeyID: keyID,
		Status:      models.BatchReceived,
		ReceivedAt:  time.Now(),
	}
	m.batches[id] = batch
	return batch
}

func (m *mockRepository) addRecord(batchID string, studentID *string, label string, marks []models.OptionMark) *models.DetectionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextRecordID++
	raw, _ := json.Marshal(marks)
	record := &models.DetectionRecord{
		ID:            m.nextRecordID,
		BatchID:       batchID,
		StudentID:     studentID,
		QuestionLabel: label,
		Marks:         datatypes.JSON(raw),
		ScanRef:       "scan-001.png:1",
		CreatedAt:     time.Now(),
	}
	m.records[record.ID] = record
	return record
}

func (m *mockRepository) addDecision(keyID uint, studentID, label string, revision int, origin models.DecisionOrigin, chosen []string) *models.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextDecisionID++
	raw, _ := json.Marshal(chosen)
	decision := &models.Decision{
		ID:            m.nextDecisionID,
		AnswerKeyID:   keyID,
		StudentID:     studentID,
		QuestionLabel: label,
		Revision:      revision,
		ChosenSet:     datatypes.JSON(raw),
		Origin:        origin,
		DecidedAt:     time.Now(),
	}
	m.decisions = append(m.decisions, decision)
	return decision
}

func (m *mockRepository) addUser(id string, role models.UserRole) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()

	user := &models.User{
		ID:       id,
		FullName: "Test User",
		Email:    id + "@example.com",
		Role:     role,
	}
	m.users[id] = user
	return user
}

func mustJSON(t *testing.T, v interface{}) datatypes.JSON {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("mustJSON: %v", err)
	}
	return datatypes.JSON(data)
}

// testQuestion builds a question with decoded columns already encoded.
func testQuestion(t *testing.T, label string, options, correct []string, weight float64, policy models.PenaltyPolicy) models.Question {
	t.Helper()
	return models.Question{
		Label:         label,
		Options:       mustJSON(t, options),
		CorrectSet:    mustJSON(t, correct),
		Weight:        weight,
		PenaltyPolicy: policy,
	}
}

// ===== ANSWER KEY =====

type mockAnswerKeyRepo struct{ m *mockRepository }

func (r *mockAnswerKeyRepo) Create(ctx context.Context, tx *gorm.DB, key *models.AnswerKey) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.nextKeyID++
	key.ID = r.m.nextKeyID
	r.m.keys[key.ID] = key
	return nil
}

func (r *mockAnswerKeyRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.AnswerKey, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key, ok := r.m.keys[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return key, nil
}

func (r *mockAnswerKeyRepo) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.AnswerKey, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key, ok := r.m.keys[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	loaded := *key
	loaded.Questions = append([]models.Question(nil), r.m.questions[id]...)
	return &loaded, nil
}

func (r *mockAnswerKeyRepo) Update(ctx context.Context, tx *gorm.DB, key *models.AnswerKey) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.keys[key.ID]; !ok {
		return repositories.ErrNotFound
	}
	r.m.keys[key.ID] = key
	return nil
}

func (r *mockAnswerKeyRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.keys[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(r.m.keys, id)
	delete(r.m.questions, id)
	return nil
}

func (r *mockAnswerKeyRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.AnswerKeyFilters) ([]*models.AnswerKey, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.AnswerKey
	for _, key := range r.m.keys {
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (r *mockAnswerKeyRepo) GetByCreator(ctx context.Context, tx *gorm.DB, creatorID string, filters repositories.AnswerKeyFilters) ([]*models.AnswerKey, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.AnswerKey
	for _, key := range r.m.keys {
		if key.CreatedBy == creatorID {
			out = append(out, key)
		}
	}
	return out, int64(len(out)), nil
}

func (r *mockAnswerKeyRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.KeyStatus) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key, ok := r.m.keys[id]
	if !ok {
		return repositories.ErrNotFound
	}
	key.Status = status
	if status == models.KeyFinalized {
		now := time.Now()
		key.FinalizedAt = &now
	}
	return nil
}

func (r *mockAnswerKeyRepo) GetStats(ctx context.Context, tx *gorm.DB, id uint) (*repositories.KeyStats, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.keys[id]; !ok {
		return nil, repositories.ErrNotFound
	}
	stats := &repositories.KeyStats{QuestionCount: len(r.m.questions[id])}
	for _, q := range r.m.questions[id] {
		stats.TotalWeight += q.Weight
	}
	return stats, nil
}

// ===== QUESTIONS =====

type mockQuestionRepo struct{ m *mockRepository }

func (r *mockQuestionRepo) Create(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.questions[question.AnswerKeyID] = append(r.m.questions[question.AnswerKeyID], *question)
	return nil
}

func (r *mockQuestionRepo) CreateBatch(ctx context.Context, tx *gorm.DB, questions []*models.Question) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, q := range questions {
		r.m.questions[q.AnswerKeyID] = append(r.m.questions[q.AnswerKeyID], *q)
	}
	return nil
}

func (r *mockQuestionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, questions := range r.m.questions {
		for i := range questions {
			if questions[i].ID == id {
				return &questions[i], nil
			}
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *mockQuestionRepo) Update(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	return nil
}

func (r *mockQuestionRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	return nil
}

func (r *mockQuestionRepo) GetByKey(ctx context.Context, tx *gorm.DB, keyID uint) ([]*models.Question, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	questions := r.m.questions[keyID]
	out := make([]*models.Question, len(questions))
	for i := range questions {
		out[i] = &questions[i]
	}
	return out, nil
}

func (r *mockQuestionRepo) GetByLabel(ctx context.Context, tx *gorm.DB, keyID uint, label string) (*models.Question, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	questions := r.m.questions[keyID]
	for i := range questions {
		if questions[i].Label == label {
			return &questions[i], nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *mockQuestionRepo) ExistsByLabel(ctx context.Context, tx *gorm.DB, keyID uint, label string) (bool, error) {
	_, err := r.GetByLabel(ctx, tx, keyID, label)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ===== DETECTION BATCHES =====

type mockBatchRepo struct{ m *mockRepository }

func (r *mockBatchRepo) Create(ctx context.Context, tx *gorm.DB, batch *models.DetectionBatch) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.batches[batch.ID] = batch
	return nil
}

func (r *mockBatchRepo) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.DetectionBatch, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	batch, ok := r.m.batches[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return batch, nil
}

func (r *mockBatchRepo) GetByIDWithRecords(ctx context.Context, tx *gorm.DB, id string) (*models.DetectionBatch, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	batch, ok := r.m.batches[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	loaded := *batch
	var ids []uint
	for recordID, record := range r.m.records {
		if record.BatchID == id {
			ids = append(ids, recordID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, recordID := range ids {
		loaded.Records = append(loaded.Records, *r.m.records[recordID])
	}
	loaded.RecordCount = len(loaded.Records)
	return &loaded, nil
}

func (r *mockBatchRepo) GetByKey(ctx context.Context, tx *gorm.DB, keyID uint) ([]*models.DetectionBatch, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.DetectionBatch
	for _, batch := range r.m.batches {
		if batch.AnswerKeyID == keyID {
			out = append(out, batch)
		}
	}
	return out, nil
}

func (r *mockBatchRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id string, status models.BatchStatus) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	batch, ok := r.m.batches[id]
	if !ok {
		return repositories.ErrNotFound
	}
	batch.Status = status
	return nil
}

// ===== DETECTION RECORDS =====

type mockDetectionRepo struct{ m *mockRepository }

func (r *mockDetectionRepo) Create(ctx context.Context, tx *gorm.DB, record *models.DetectionRecord) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.nextRecordID++
	record.ID = r.m.nextRecordID
	r.m.records[record.ID] = record
	return nil
}

func (r *mockDetectionRepo) CreateBatch(ctx context.Context, tx *gorm.DB, records []*models.DetectionRecord) error {
	for _, record := range records {
		if err := r.Create(ctx, tx, record); err != nil {
			return err
		}
	}
	return nil
}

func (r *mockDetectionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.DetectionRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	record, ok := r.m.records[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return record, nil
}

func (r *mockDetectionRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.DetectionFilters) ([]*models.DetectionRecord, int64, error) {
	return nil, 0, nil
}

func (r *mockDetectionRepo) GetByBatch(ctx context.Context, tx *gorm.DB, batchID string) ([]*models.DetectionRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.DetectionRecord
	for _, record := range r.m.records {
		if record.BatchID == batchID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *mockDetectionRepo) GetByStudent(ctx context.Context, tx *gorm.DB, keyID uint, studentID string) ([]*models.DetectionRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.DetectionRecord
	for _, record := range r.m.records {
		if record.StudentID == nil || *record.StudentID != studentID {
			continue
		}
		batch, ok := r.m.batches[record.BatchID]
		if !ok || batch.AnswerKeyID != keyID {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (r *mockDetectionRepo) GetUnresolved(ctx context.Context, tx *gorm.DB, batchID string) ([]*models.DetectionRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.DetectionRecord
	for _, record := range r.m.records {
		if record.BatchID == batchID && record.StudentID == nil {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *mockDetectionRepo) StudentsByKey(ctx context.Context, tx *gorm.DB, keyID uint) ([]string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, record := range r.m.records {
		if record.StudentID == nil {
			continue
		}
		batch, ok := r.m.batches[record.BatchID]
		if !ok || batch.AnswerKeyID != keyID {
			continue
		}
		if !seen[*record.StudentID] {
			seen[*record.StudentID] = true
			out = append(out, *record.StudentID)
		}
	}
	return out, nil
}

func (r *mockDetectionRepo) ResolveStudent(ctx context.Context, tx *gorm.DB, batchID, scanRef, studentID string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var resolved int64
	for _, record := range r.m.records {
		if record.BatchID == batchID && record.ScanRef == scanRef && record.StudentID == nil {
			id := studentID
			record.StudentID = &id
			resolved++
		}
	}
	return resolved, nil
}

func (r *mockDetectionRepo) ExistsByScanRef(ctx context.Context, tx *gorm.DB, scanRef string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, record := range r.m.records {
		if record.ScanRef == scanRef {
			return true, nil
		}
	}
	return false, nil
}

func (r *mockDetectionRepo) CountByStudentAndLabel(ctx context.Context, tx *gorm.DB, keyID uint, studentID, label string) (int64, error) {
	records, err := r.GetByStudent(ctx, tx, keyID, studentID)
	if err != nil {
		return 0, err
	}
	var count int64
	for _, record := range records {
		if record.QuestionLabel == label {
			count++
		}
	}
	return count, nil
}

// ===== DECISIONS =====

type mockDecisionRepo struct{ m *mockRepository }

func (r *mockDecisionRepo) Append(ctx context.Context, tx *gorm.DB, decision *models.Decision) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.decisions {
		if existing.AnswerKeyID == decision.AnswerKeyID &&
			existing.StudentID == decision.StudentID &&
			existing.QuestionLabel == decision.QuestionLabel &&
			existing.Revision == decision.Revision {
			return gorm.ErrDuplicatedKey
		}
	}
	r.m.nextDecisionID++
	decision.ID = r.m.nextDecisionID
	decision.CreatedAt = time.Now()
	r.m.decisions = append(r.m.decisions, decision)
	return nil
}

func (r *mockDecisionRepo) History(ctx context.Context, tx *gorm.DB, keyID uint, studentID, questionLabel string) ([]*models.Decision, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Decision
	for _, d := range r.m.decisions {
		if d.AnswerKeyID == keyID && d.StudentID == studentID && d.QuestionLabel == questionLabel {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Revision < out[j].Revision })
	return out, nil
}

func (r *mockDecisionRepo) Current(ctx context.Context, tx *gorm.DB, keyID uint, studentID, questionLabel string) (*models.Decision, error) {
	history, err := r.History(ctx, tx, keyID, studentID, questionLabel)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, repositories.ErrNotFound
	}
	return history[len(history)-1], nil
}

func (r *mockDecisionRepo) CurrentByStudent(ctx context.Context, tx *gorm.DB, keyID uint, studentID string) (map[string]*models.Decision, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make(map[string]*models.Decision)
	for _, d := range r.m.decisions {
		if d.AnswerKeyID != keyID || d.StudentID != studentID {
			continue
		}
		if current, ok := out[d.QuestionLabel]; !ok || d.Revision > current.Revision {
			out[d.QuestionLabel] = d
		}
	}
	return out, nil
}

func (r *mockDecisionRepo) CurrentByKey(ctx context.Context, tx *gorm.DB, keyID uint) (map[string]map[string]*models.Decision, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make(map[string]map[string]*models.Decision)
	for _, d := range r.m.decisions {
		if d.AnswerKeyID != keyID {
			continue
		}
		byLabel, ok := out[d.StudentID]
		if !ok {
			byLabel = make(map[string]*models.Decision)
			out[d.StudentID] = byLabel
		}
		if current, ok := byLabel[d.QuestionLabel]; !ok || d.Revision > current.Revision {
			byLabel[d.QuestionLabel] = d
		}
	}
	return out, nil
}

func (r *mockDecisionRepo) List(ctx context.Context, tx *gorm.DB, keyID uint, filters repositories.DecisionFilters) ([]*models.Decision, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Decision
	for _, d := range r.m.decisions {
		if d.AnswerKeyID == keyID {
			out = append(out, d)
		}
	}
	return out, int64(len(out)), nil
}

func (r *mockDecisionRepo) GetCorrectionStats(ctx context.Context, tx *gorm.DB, keyID uint) (*repositories.CorrectionStats, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.stats != nil {
		return r.m.stats, nil
	}
	stats := &repositories.CorrectionStats{}
	for _, d := range r.m.decisions {
		if d.AnswerKeyID != keyID {
			continue
		}
		switch d.Origin {
		case models.OriginAutomatic:
			stats.AutomaticDecided++
		case models.OriginHumanOverride:
			stats.HumanOverridden++
		}
	}
	for _, f := range r.m.flags {
		if f.AnswerKeyID == keyID && !f.Resolved {
			stats.PendingReview++
		}
	}
	return stats, nil
}

// ===== REVIEW FLAGS =====

type mockReviewFlagRepo struct{ m *mockRepository }

func (r *mockReviewFlagRepo) Upsert(ctx context.Context, tx *gorm.DB, flag *models.ReviewFlag) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.flags {
		if existing.AnswerKeyID == flag.AnswerKeyID &&
			existing.StudentID == flag.StudentID &&
			existing.QuestionLabel == flag.QuestionLabel {
			existing.DetectionRecordID = flag.DetectionRecordID
			existing.Candidates = flag.Candidates
			existing.Reason = flag.Reason
			existing.Resolved = false
			existing.UpdatedAt = time.Now()
			return nil
		}
	}
	r.m.nextFlagID++
	flag.ID = r.m.nextFlagID
	flag.CreatedAt = time.Now()
	flag.UpdatedAt = flag.CreatedAt
	r.m.flags = append(r.m.flags, flag)
	return nil
}

func (r *mockReviewFlagRepo) GetByPair(ctx context.Context, tx *gorm.DB, keyID uint, studentID, questionLabel string) (*models.ReviewFlag, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, flag := range r.m.flags {
		if flag.AnswerKeyID == keyID && flag.StudentID == studentID && flag.QuestionLabel == questionLabel {
			return flag, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *mockReviewFlagRepo) GetPending(ctx context.Context, tx *gorm.DB, keyID uint, filters repositories.ReviewFlagFilters) ([]*models.ReviewFlag, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var matched []*models.ReviewFlag
	for _, flag := range r.m.flags {
		if flag.AnswerKeyID != keyID || flag.Resolved {
			continue
		}
		if filters.StudentID != nil && flag.StudentID != *filters.StudentID {
			continue
		}
		loaded := *flag
		if record, ok := r.m.records[flag.DetectionRecordID]; ok {
			loaded.DetectionRecord = *record
		}
		matched = append(matched, &loaded)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := int64(len(matched))
	if filters.Offset > 0 {
		if filters.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filters.Offset:]
		}
	}
	if filters.Limit > 0 && len(matched) > filters.Limit {
		matched = matched[:filters.Limit]
	}
	return matched, total, nil
}

func (r *mockReviewFlagRepo) MarkResolved(ctx context.Context, tx *gorm.DB, keyID uint, studentID, questionLabel string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, flag := range r.m.flags {
		if flag.AnswerKeyID == keyID && flag.StudentID == studentID && flag.QuestionLabel == questionLabel {
			flag.Resolved = true
			flag.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (r *mockReviewFlagRepo) CountPending(ctx context.Context, tx *gorm.DB, keyID uint, studentID *string) (int64, error) {
	_, total, err := r.GetPending(ctx, tx, keyID, repositories.ReviewFlagFilters{StudentID: studentID})
	return total, err
}

// ===== USERS =====

type mockUserRepo struct{ m *mockRepository }

func (r *mockUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	user, ok := r.m.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return user, nil
}

func (r *mockUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, user := range r.m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *mockUserRepo) GetByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	var out []*models.User
	for _, id := range ids {
		if user, err := r.GetByID(ctx, id); err == nil {
			out = append(out, user)
		}
	}
	return out, nil
}

func (r *mockUserRepo) List(ctx context.Context, filters repositories.UserFilters) ([]*models.User, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.User
	for _, user := range r.m.users {
		out = append(out, user)
	}
	return out, int64(len(out)), nil
}

func (r *mockUserRepo) ExistsByID(ctx context.Context, id string) (bool, error) {
	_, err := r.GetByID(ctx, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *mockUserRepo) HasRole(ctx context.Context, id string, role models.UserRole) (bool, error) {
	user, err := r.GetByID(ctx, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return user.Role == role, nil
}
