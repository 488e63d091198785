package internal

import (
	"context"
	"errors"
	"evledger/entity"
	"evledger/internal/config"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionLog           = "sys_log"
	collectionUserTags      = "user_tags"
	collectionChargePoints  = "charge_points"
	collectionConnectors    = "connectors"
	collectionConnectorLog  = "connector_states"
	collectionSessions      = "sessions"
	collectionLocations     = "locations"
	collectionErrors        = "errors"
	collectionSubscriptions = "subscriptions"
)

type MongoDB struct {
	client   *mongo.Client
	database string
	timeout  time.Duration
}

func NewMongoClient(conf *config.Config) (*MongoDB, error) {
	if !conf.Mongo.Enabled {
		return nil, nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), conf.Mongo.Timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	return &MongoDB{
		client:   client,
		database: conf.Mongo.Database,
		timeout:  conf.Mongo.Timeout,
	}, nil
}

func (m *MongoDB) Close() error {
	ctx, cancel := m.context()
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoDB) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.timeout)
}

func (m *MongoDB) collection(name string) *mongo.Collection {
	return m.client.Database(m.database).Collection(name)
}

// findOne decodes the first match into result; a missing document is reported as false without error
func (m *MongoDB) findOne(name string, filter interface{}, result interface{}, opts ...*options.FindOneOptions) (bool, error) {
	ctx, cancel := m.context()
	defer cancel()
	err := m.collection(name).FindOne(ctx, filter, opts...).Decode(result)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *MongoDB) upsert(name string, filter interface{}, data interface{}) error {
	ctx, cancel := m.context()
	defer cancel()
	_, err := m.collection(name).UpdateOne(ctx, filter, bson.M{"$set": data}, options.Update().SetUpsert(true))
	return err
}

func (m *MongoDB) insert(name string, data interface{}) error {
	ctx, cancel := m.context()
	defer cancel()
	_, err := m.collection(name).InsertOne(ctx, data)
	return err
}

func (m *MongoDB) WriteLogMessage(message *FeatureLogMessage) error {
	return m.insert(collectionLog, message)
}

func (m *MongoDB) GetChargePoints() ([]*entity.ChargePoint, error) {
	ctx, cancel := m.context()
	defer cancel()
	cursor, err := m.collection(collectionChargePoints).Find(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	var chargePoints []*entity.ChargePoint
	if err = cursor.All(ctx, &chargePoints); err != nil {
		return nil, err
	}
	return chargePoints, nil
}

func (m *MongoDB) GetChargePoint(id string) (*entity.ChargePoint, error) {
	chargePoint := &entity.ChargePoint{}
	ok, err := m.findOne(collectionChargePoints, bson.D{{Key: "charge_point_id", Value: id}}, chargePoint)
	if err != nil || !ok {
		return nil, err
	}
	connectors, err := m.getConnectors(bson.D{{Key: "charge_point_id", Value: id}})
	if err != nil {
		return nil, err
	}
	chargePoint.Connectors = connectors
	return chargePoint, nil
}

func (m *MongoDB) AddChargePoint(chargePoint *entity.ChargePoint) error {
	existing, err := m.GetChargePoint(chargePoint.Id)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("charge point with id %s already exists", chargePoint.Id)
	}
	return m.insert(collectionChargePoints, chargePoint)
}

func (m *MongoDB) UpdateChargePoint(chargePoint *entity.ChargePoint) error {
	return m.upsert(collectionChargePoints, bson.D{{Key: "charge_point_id", Value: chargePoint.Id}}, chargePoint)
}

func (m *MongoDB) GetConnectors() ([]*entity.Connector, error) {
	return m.getConnectors(bson.D{})
}

func (m *MongoDB) getConnectors(filter bson.D) ([]*entity.Connector, error) {
	ctx, cancel := m.context()
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "connector_id", Value: 1}})
	cursor, err := m.collection(collectionConnectors).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var connectors []*entity.Connector
	if err = cursor.All(ctx, &connectors); err != nil {
		return nil, err
	}
	return connectors, nil
}

func (m *MongoDB) UpdateConnector(connector *entity.Connector) error {
	filter := bson.D{{Key: "charge_point_id", Value: connector.ChargePointId}, {Key: "connector_id", Value: connector.Id}}
	return m.upsert(collectionConnectors, filter, connector)
}

func (m *MongoDB) SaveConnectorSnapshot(snapshot *entity.ConnectorSnapshot) error {
	filter := bson.D{{Key: "charge_point_id", Value: snapshot.ChargePointId}, {Key: "connector_id", Value: snapshot.ConnectorId}}
	return m.upsert(collectionConnectorLog, filter, snapshot)
}

func (m *MongoDB) GetUserTag(id string) (*entity.UserTag, error) {
	userTag := &entity.UserTag{}
	ok, err := m.findOne(collectionUserTags, bson.D{{Key: "id_tag", Value: id}}, userTag)
	if err != nil || !ok {
		return nil, err
	}
	return userTag, nil
}

func (m *MongoDB) AddUserTag(userTag *entity.UserTag) error {
	return m.insert(collectionUserTags, userTag)
}

func (m *MongoDB) UpsertUserTag(userTag *entity.UserTag) error {
	return m.upsert(collectionUserTags, bson.D{{Key: "id_tag", Value: userTag.IdTag}}, userTag)
}

func (m *MongoDB) GetLastSessionId() (int, error) {
	session := &entity.Session{}
	opts := options.FindOne().SetSort(bson.D{{Key: "transaction_id", Value: -1}})
	ok, err := m.findOne(collectionSessions, bson.D{}, session, opts)
	if err != nil || !ok {
		return 0, err
	}
	return session.Id, nil
}

func (m *MongoDB) SaveSession(session *entity.Session) error {
	return m.upsert(collectionSessions, bson.D{{Key: "transaction_id", Value: session.Id}}, session)
}

func (m *MongoDB) GetLocation(id string) (*entity.Location, error) {
	location := &entity.Location{}
	ok, err := m.findOne(collectionLocations, bson.D{{Key: "id", Value: id}}, location)
	if err != nil || !ok {
		return nil, err
	}
	return location, nil
}

func (m *MongoDB) GetLocations() ([]*entity.Location, error) {
	ctx, cancel := m.context()
	defer cancel()
	cursor, err := m.collection(collectionLocations).Find(ctx, bson.D{{Key: "remote", Value: false}})
	if err != nil {
		return nil, err
	}
	var locations []*entity.Location
	if err = cursor.All(ctx, &locations); err != nil {
		return nil, err
	}
	return locations, nil
}

func (m *MongoDB) UpsertLocation(location *entity.Location) error {
	filter := bson.D{{Key: "id", Value: location.Id}, {Key: "country_code", Value: location.CountryCode}, {Key: "party_id", Value: location.PartyId}}
	return m.upsert(collectionLocations, filter, location)
}

func (m *MongoDB) AddErrorData(data *entity.ErrorData) error {
	return m.insert(collectionErrors, data)
}

func (m *MongoDB) GetSubscriptions() ([]entity.UserSubscription, error) {
	ctx, cancel := m.context()
	defer cancel()
	cursor, err := m.collection(collectionSubscriptions).Find(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	var subscriptions []entity.UserSubscription
	if err = cursor.All(ctx, &subscriptions); err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (m *MongoDB) AddSubscription(subscription *entity.UserSubscription) error {
	return m.upsert(collectionSubscriptions, bson.D{{Key: "user_id", Value: subscription.UserID}}, subscription)
}

func (m *MongoDB) DeleteSubscription(subscription *entity.UserSubscription) error {
	ctx, cancel := m.context()
	defer cancel()
	_, err := m.collection(collectionSubscriptions).DeleteOne(ctx, bson.D{{Key: "user_id", Value: subscription.UserID}})
	return err
}
