package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"resume-match-go/internal/config"
)

// RabbitMQ 管道事件发布器。事件是尽力而为的旁路通知，
// 发布失败不影响主流程。
type RabbitMQ struct {
	conn        *amqp.Connection
	channelPool *sync.Pool
	exchange    string
}

// NewRabbitMQ 创建RabbitMQ连接并声明事件exchange
func NewRabbitMQ(cfg *config.RabbitMQConfig) (*RabbitMQ, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("rabbitmq配置不能为空")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接RabbitMQ失败: %w", err)
	}

	mq := &RabbitMQ{
		conn:     conn,
		exchange: cfg.EventsExchange,
		channelPool: &sync.Pool{
			New: func() interface{} {
				ch, err := conn.Channel()
				if err != nil {
					return nil
				}
				return ch
			},
		},
	}

	if err := mq.ensureExchange(cfg.EventsExchange); err != nil {
		conn.Close()
		return nil, err
	}

	return mq, nil
}

func (r *RabbitMQ) getChannel() *amqp.Channel {
	ch := r.channelPool.Get()
	if ch == nil {
		newCh, err := r.conn.Channel()
		if err != nil {
			return nil
		}
		return newCh
	}
	return ch.(*amqp.Channel)
}

func (r *RabbitMQ) putChannel(ch *amqp.Channel) {
	if ch != nil && !ch.IsClosed() {
		r.channelPool.Put(ch)
	}
}

// Close 关闭RabbitMQ连接
func (r *RabbitMQ) Close() error {
	return r.conn.Close()
}

// ensureExchange 声明事件exchange（topic，持久化）
func (r *RabbitMQ) ensureExchange(exchangeName string) error {
	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("获取channel失败")
	}
	defer r.putChannel(ch)

	if err := ch.ExchangeDeclare(
		exchangeName,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("声明exchange失败: %w", err)
	}
	return nil
}

// PublishJSON 发布一条JSON事件到事件exchange
func (r *RabbitMQ) PublishJSON(ctx context.Context, routingKey string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("获取channel失败")
	}
	defer r.putChannel(ch)

	return ch.PublishWithContext(
		ctx,
		r.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         jsonData,
			DeliveryMode: amqp.Persistent,
		},
	)
}
