package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"moviezone-tg-bot/internal/apperr"
)

type Mongo struct {
	client   *mongo.Client
	users    *mongo.Collection
	admins   *mongo.Collection
	channels *mongo.Collection
	movies   *mongo.Collection
	requests *mongo.Collection
	counters *mongo.Collection
}

var titleCollation = &options.Collation{Locale: "en", Strength: 2}

func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	if uri == "" {
		return nil, errors.New("MONGODB_URI is empty")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, apperr.Store("connect", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, apperr.Store("ping", err)
	}
	db := client.Database(database)
	m := &Mongo{
		client:   client,
		users:    db.Collection("users"),
		admins:   db.Collection("admins"),
		channels: db.Collection("channels"),
		movies:   db.Collection("movies"),
		requests: db.Collection("requests"),
		counters: db.Collection("counters"),
	}
	_, _ = m.movies.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{bson.E{Key: "category", Value: 1}, bson.E{Key: "_id", Value: 1}}},
		{Keys: bson.D{bson.E{Key: "uploader.id", Value: 1}, bson.E{Key: "_id", Value: 1}}},
		{Keys: bson.D{bson.E{Key: "title", Value: 1}}, Options: options.Index().SetCollation(titleCollation)},
	})
	_, _ = m.requests.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{bson.E{Key: "status", Value: 1}, bson.E{Key: "_id", Value: -1}}})
	return m, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

func (m *Mongo) nextID(ctx context.Context, name string) (int64, error) {
	var out struct {
		Seq int64 `bson:"seq"`
	}
	err := m.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		return 0, apperr.Store("next_id", err)
	}
	return out.Seq, nil
}

func (m *Mongo) UpsertUser(ctx context.Context, u User) (bool, error) {
	if u.JoinedAt.IsZero() {
		u.JoinedAt = time.Now()
	}
	res, err := m.users.UpdateOne(ctx,
		bson.M{"_id": u.ID},
		bson.M{
			"$set":         bson.M{"first_name": u.FirstName, "username": u.Username},
			"$setOnInsert": bson.M{"joined_at": u.JoinedAt, "seen_welcome": u.SeenWelcome},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, apperr.Store("upsert_user", err)
	}
	return res.UpsertedCount > 0, nil
}

func (m *Mongo) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := m.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, apperr.NotFound("get_user", fmt.Sprintf("user %d not found", id))
	}
	if err != nil {
		return nil, apperr.Store("get_user", err)
	}
	return &u, nil
}

func (m *Mongo) MarkWelcomed(ctx context.Context, id int64) error {
	res, err := m.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"seen_welcome": true}})
	if err != nil {
		return apperr.Store("mark_welcomed", err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("mark_welcomed", fmt.Sprintf("user %d not found", id))
	}
	return nil
}

func (m *Mongo) AddAdmin(ctx context.Context, a Admin) error {
	if a.AddedAt.IsZero() {
		a.AddedAt = time.Now()
	}
	_, err := m.admins.InsertOne(ctx, a)
	if mongo.IsDuplicateKeyError(err) {
		return apperr.Conflict("add_admin", fmt.Sprintf("user %d is already an admin", a.UserID))
	}
	if err != nil {
		return apperr.Store("add_admin", err)
	}
	return nil
}

func (m *Mongo) RemoveAdmin(ctx context.Context, id int64) error {
	res, err := m.admins.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return apperr.Store("remove_admin", err)
	}
	if res.DeletedCount == 0 {
		return apperr.NotFound("remove_admin", fmt.Sprintf("user %d is not an admin", id))
	}
	return nil
}

func (m *Mongo) GetAdmin(ctx context.Context, id int64) (*Admin, error) {
	var a Admin
	err := m.admins.FindOne(ctx, bson.M{"_id": id}).Decode(&a)
	if err == mongo.ErrNoDocuments {
		return nil, apperr.NotFound("get_admin", fmt.Sprintf("user %d is not an admin", id))
	}
	if err != nil {
		return nil, apperr.Store("get_admin", err)
	}
	return &a, nil
}

func (m *Mongo) ListAdmins(ctx context.Context) ([]Admin, error) {
	opts := options.Find().SetSort(bson.D{bson.E{Key: "added_at", Value: 1}, bson.E{Key: "_id", Value: 1}})
	out := []Admin{}
	if err := findAll(ctx, m.admins, bson.M{}, opts, &out); err != nil {
		return nil, apperr.Store("list_admins", err)
	}
	return out, nil
}

func (m *Mongo) AddChannel(ctx context.Context, c Channel) error {
	if c.AddedAt.IsZero() {
		c.AddedAt = time.Now()
	}
	_, err := m.channels.InsertOne(ctx, c)
	if mongo.IsDuplicateKeyError(err) {
		return apperr.Conflict("add_channel", fmt.Sprintf("channel %s is already configured", c.Name))
	}
	if err != nil {
		return apperr.Store("add_channel", err)
	}
	return nil
}

func (m *Mongo) RemoveChannel(ctx context.Context, chatID int64) error {
	res, err := m.channels.DeleteOne(ctx, bson.M{"_id": chatID})
	if err != nil {
		return apperr.Store("remove_channel", err)
	}
	if res.DeletedCount == 0 {
		return apperr.NotFound("remove_channel", fmt.Sprintf("channel %d is not configured", chatID))
	}
	return nil
}

func (m *Mongo) ListChannels(ctx context.Context) ([]Channel, error) {
	opts := options.Find().SetSort(bson.D{bson.E{Key: "added_at", Value: 1}, bson.E{Key: "_id", Value: 1}})
	out := []Channel{}
	if err := findAll(ctx, m.channels, bson.M{}, opts, &out); err != nil {
		return nil, apperr.Store("list_channels", err)
	}
	return out, nil
}

func (m *Mongo) CreateMovie(ctx context.Context, mv *Movie) error {
	id, err := m.nextID(ctx, "movies")
	if err != nil {
		return err
	}
	rec := *mv
	rec.ID = id
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if _, err := m.movies.InsertOne(ctx, rec); err != nil {
		return apperr.Store("create_movie", err)
	}
	mv.ID = rec.ID
	mv.CreatedAt = rec.CreatedAt
	return nil
}

func (m *Mongo) GetMovie(ctx context.Context, id int64) (*Movie, error) {
	var mv Movie
	err := m.movies.FindOne(ctx, bson.M{"_id": id}).Decode(&mv)
	if err == mongo.ErrNoDocuments {
		return nil, apperr.NotFound("get_movie", fmt.Sprintf("movie %d not found", id))
	}
	if err != nil {
		return nil, apperr.Store("get_movie", err)
	}
	return &mv, nil
}

func (m *Mongo) DeleteMovie(ctx context.Context, id int64) error {
	res, err := m.movies.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return apperr.Store("delete_movie", err)
	}
	if res.DeletedCount == 0 {
		return apperr.NotFound("delete_movie", fmt.Sprintf("movie %d not found", id))
	}
	return nil
}

func (m *Mongo) IncrementDownloads(ctx context.Context, id int64) (int64, error) {
	var mv Movie
	err := m.movies.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"downloads": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&mv)
	if err == mongo.ErrNoDocuments {
		return 0, apperr.NotFound("increment_downloads", fmt.Sprintf("movie %d not found", id))
	}
	if err != nil {
		return 0, apperr.Store("increment_downloads", err)
	}
	return mv.Downloads, nil
}

func movieQuery(f MovieFilter) bson.M {
	q := bson.M{}
	if f.Category != "" {
		q["category"] = bson.M{"$regex": "^" + regexp.QuoteMeta(f.Category) + "$", "$options": "i"}
	}
	if f.UploaderID != 0 {
		q["uploader.id"] = f.UploaderID
	}
	if f.Letter != "" {
		if f.Letter == NonLetter {
			q["title"] = bson.M{"$regex": `^\s*[^\p{L}]`}
		} else {
			q["title"] = bson.M{"$regex": `^\s*` + regexp.QuoteMeta(strings.ToUpper(f.Letter)), "$options": "i"}
		}
	}
	return q
}

func (m *Mongo) CountMovies(ctx context.Context, f MovieFilter) (int, error) {
	n, err := m.movies.CountDocuments(ctx, movieQuery(f))
	if err != nil {
		return 0, apperr.Store("count_movies", err)
	}
	return int(n), nil
}

func (m *Mongo) ListMovies(ctx context.Context, f MovieFilter, offset, limit int) ([]Movie, error) {
	opts := options.Find().SetSkip(int64(max(offset, 0)))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if f.ByTitle() {
		opts.SetSort(bson.D{bson.E{Key: "title", Value: 1}, bson.E{Key: "_id", Value: 1}}).SetCollation(titleCollation)
	} else {
		opts.SetSort(bson.D{bson.E{Key: "_id", Value: 1}})
	}
	out := []Movie{}
	if err := findAll(ctx, m.movies, movieQuery(f), opts, &out); err != nil {
		return nil, apperr.Store("list_movies", err)
	}
	return out, nil
}

func (m *Mongo) CreateRequest(ctx context.Context, r *Request) error {
	id, err := m.nextID(ctx, "requests")
	if err != nil {
		return err
	}
	rec := *r
	rec.ID = id
	if rec.Status == "" {
		rec.Status = RequestPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.UpdatedAt = rec.CreatedAt
	if _, err := m.requests.InsertOne(ctx, rec); err != nil {
		return apperr.Store("create_request", err)
	}
	*r = rec
	return nil
}

func (m *Mongo) GetRequest(ctx context.Context, id int64) (*Request, error) {
	var r Request
	err := m.requests.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if err == mongo.ErrNoDocuments {
		return nil, apperr.NotFound("get_request", fmt.Sprintf("request %d not found", id))
	}
	if err != nil {
		return nil, apperr.Store("get_request", err)
	}
	return &r, nil
}

// FulfillRequest flips a pending request. The status condition in the filter
// makes the flip happen at most once even with concurrent callers.
func (m *Mongo) FulfillRequest(ctx context.Context, id int64) (*Request, error) {
	var r Request
	err := m.requests.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": RequestPending},
		bson.M{"$set": bson.M{"status": RequestFulfilled, "updated_at": time.Now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&r)
	if err == mongo.ErrNoDocuments {
		if _, getErr := m.GetRequest(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, apperr.Conflict("fulfill_request", fmt.Sprintf("request %d is already fulfilled", id))
	}
	if err != nil {
		return nil, apperr.Store("fulfill_request", err)
	}
	return &r, nil
}

func requestQuery(status RequestStatus) bson.M {
	if status == "" {
		return bson.M{}
	}
	return bson.M{"status": status}
}

func (m *Mongo) CountRequests(ctx context.Context, status RequestStatus) (int, error) {
	n, err := m.requests.CountDocuments(ctx, requestQuery(status))
	if err != nil {
		return 0, apperr.Store("count_requests", err)
	}
	return int(n), nil
}

func (m *Mongo) ListRequests(ctx context.Context, status RequestStatus, offset, limit int) ([]Request, error) {
	opts := options.Find().SetSort(bson.D{bson.E{Key: "_id", Value: -1}}).SetSkip(int64(max(offset, 0)))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	out := []Request{}
	if err := findAll(ctx, m.requests, requestQuery(status), opts, &out); err != nil {
		return nil, apperr.Store("list_requests", err)
	}
	return out, nil
}

func findAll[T any](ctx context.Context, col *mongo.Collection, filter bson.M, opts *options.FindOptions, out *[]T) error {
	cur, err := col.Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var it T
		if err := cur.Decode(&it); err != nil {
			return err
		}
		*out = append(*out, it)
	}
	return cur.Err()
}

var _ Store = (*Mongo)(nil)
