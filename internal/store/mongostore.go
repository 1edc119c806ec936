package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// MongoStore is the production Store, backed by a real replica set. It
// translates the Filter sentinel types into native Mongo operators rather
// than attempting to expose the driver's query language directly.
type MongoStore struct {
	client   *mongo.Client
	database string
}

// MongoConfig carries the connection parameters config.Config exposes.
type MongoConfig struct {
	URI             string
	Database        string
	ReplicaSet      string
	WriteConcern    string
	ReadPreference  string
	ConnectTimeout  time.Duration
}

// DialMongo connects to the replica set described by cfg.
func DialMongo(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.ReplicaSet != "" {
		opts.SetReplicaSet(cfg.ReplicaSet)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	switch cfg.ReadPreference {
	case "secondaryPreferred":
		opts.SetReadPreference(readpref.SecondaryPreferred())
	case "nearest":
		opts.SetReadPreference(readpref.Nearest())
	case "primary":
		opts.SetReadPreference(readpref.Primary())
	default:
		opts.SetReadPreference(readpref.PrimaryPreferred())
	}
	if cfg.WriteConcern == "majority" || cfg.WriteConcern == "" {
		opts.SetWriteConcern(writeconcern.Majority())
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, ErrUnavailable
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, ErrUnavailable
	}
	return &MongoStore{client: client, database: cfg.Database}, nil
}

func (s *MongoStore) coll(name string) *mongo.Collection {
	return s.client.Database(s.database).Collection(name)
}

// InsertOne inserts doc and returns its generated or supplied "_id".
func (s *MongoStore) InsertOne(ctx context.Context, collection string, doc Document) (string, error) {
	res, err := s.coll(collection).InsertOne(ctx, doc)
	if err != nil {
		return "", ErrUnavailable
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		return oid.Hex(), nil
	}
	if s, ok := res.InsertedID.(string); ok {
		return s, nil
	}
	return "", nil
}

// FindOne returns the first document matching filter.
func (s *MongoStore) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
	var doc Document
	err := s.coll(collection).FindOne(ctx, toBSON(filter)).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, ErrUnavailable
	}
	return doc, nil
}

// FindMany returns every document matching filter, sorted and paginated.
func (s *MongoStore) FindMany(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	findOpts := options.Find()
	if opts.SortField != "" {
		dir := 1
		if opts.SortDesc {
			dir = -1
		}
		findOpts.SetSort(bson.D{{Key: opts.SortField, Value: dir}})
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(int64(opts.Skip))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	cur, err := s.coll(collection).Find(ctx, toBSON(filter), findOpts)
	if err != nil {
		return nil, ErrUnavailable
	}
	defer cur.Close(ctx)

	var docs []Document
	for cur.Next(ctx) {
		var doc Document
		if err := cur.Decode(&doc); err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, cur.Err()
}

// Count returns the number of documents matching filter.
func (s *MongoStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	n, err := s.coll(collection).CountDocuments(ctx, toBSON(filter))
	if err != nil {
		return 0, ErrUnavailable
	}
	return int(n), nil
}

// UpdateOne applies update as a $set against the first matching document.
func (s *MongoStore) UpdateOne(ctx context.Context, collection string, filter Filter, update Document) (bool, error) {
	res, err := s.coll(collection).UpdateOne(ctx, toBSON(filter), bson.M{"$set": update})
	if err != nil {
		return false, ErrUnavailable
	}
	return res.MatchedCount > 0, nil
}

// AddToSet appends value to the named array field at-most-once via $addToSet.
func (s *MongoStore) AddToSet(ctx context.Context, collection string, filter Filter, field, value string) (bool, error) {
	res, err := s.coll(collection).UpdateOne(ctx, toBSON(filter), bson.M{"$addToSet": bson.M{field: value}})
	if err != nil {
		return false, ErrUnavailable
	}
	return res.MatchedCount > 0, nil
}

// DeleteOne removes the first document matching filter.
func (s *MongoStore) DeleteOne(ctx context.Context, collection string, filter Filter) (bool, error) {
	res, err := s.coll(collection).DeleteOne(ctx, toBSON(filter))
	if err != nil {
		return false, ErrUnavailable
	}
	return res.DeletedCount > 0, nil
}

// DeleteMany removes every document matching filter.
func (s *MongoStore) DeleteMany(ctx context.Context, collection string, filter Filter) (int, error) {
	res, err := s.coll(collection).DeleteMany(ctx, toBSON(filter))
	if err != nil {
		return 0, ErrUnavailable
	}
	return int(res.DeletedCount), nil
}

// CheckHealth reports replica set status via the admin replSetGetStatus
// command, mirroring the original service's check_health().
func (s *MongoStore) CheckHealth(ctx context.Context) (HealthReport, error) {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return HealthReport{Status: "unhealthy"}, ErrUnavailable
	}

	var result bson.M
	err := s.client.Database("admin").RunCommand(ctx, bson.D{{Key: "replSetGetStatus", Value: 1}}).Decode(&result)
	if err != nil {
		// Standalone instance (e.g. local dev) has no replica set at all.
		return HealthReport{Status: "healthy", Primary: "standalone"}, nil
	}

	var primary string
	var members []string
	if raw, ok := result["members"].(bson.A); ok {
		for _, m := range raw {
			member, ok := m.(bson.M)
			if !ok {
				continue
			}
			name, _ := member["name"].(string)
			members = append(members, name)
			if state, _ := member["stateStr"].(string); state == "PRIMARY" {
				primary = name
			}
		}
	}
	return HealthReport{Status: "healthy", Primary: primary, Members: members}, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// toBSON translates a Filter into the bson.M the driver expects, expanding
// the Range/NotContainsAll/Near sentinels into native Mongo operators.
func toBSON(filter Filter) bson.M {
	out := bson.M{}
	for field, want := range filter {
		switch w := want.(type) {
		case Range:
			cond := bson.M{}
			if w.Gt != nil {
				cond["$gt"] = *w.Gt
			}
			if w.Lt != nil {
				cond["$lt"] = *w.Lt
			}
			out[field] = cond
		case NotContainsAll:
			// "not ($all values)" — matches docs missing at least one value.
			out[field] = bson.M{"$not": bson.M{"$all": w.Values}}
		case Near:
			out[field] = bson.M{
				"$near": bson.M{
					"$geometry":    bson.M{"type": "Point", "coordinates": []float64{w.Longitude, w.Latitude}},
					"$maxDistance": w.MaxDistanceMeters,
				},
			}
		default:
			out[field] = want
		}
	}
	return out
}
